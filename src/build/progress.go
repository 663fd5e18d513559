package build

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sofmeright/stowage/src/log"
)

// LayerEvent is a completed Dockerfile step parsed from BuildKit plain
// progress output.
type LayerEvent struct {
	Stage       string // "stage-1", "" when unnamed
	Step        string // "3/12"
	Instruction string // FROM, COPY, RUN, ...
	Detail      string // instruction arguments, truncated
	Cached      bool
	Duration    time.Duration // zero for cached layers
}

var (
	// #N [stage M/N] INSTRUCTION args...
	layerStartRe = regexp.MustCompile(`^#(\d+) \[(?:([^\]]*?) )?(\d+/\d+)\] (\w+)\s*(.*)`)
	// #N CACHED
	cachedRe = regexp.MustCompile(`^#(\d+) CACHED`)
	// #N DONE 44.8s
	doneRe = regexp.MustCompile(`^#(\d+) DONE (\d+\.?\d*)s`)
)

const maxDetail = 60

// ParseProgress returns the finished Dockerfile steps of a build run with
// --progress=plain, in step order. Internal steps such as loading the
// build definition or exporting the image are dropped.
func ParseProgress(output string) []LayerEvent {
	type state struct {
		event LayerEvent
		done  bool
	}
	steps := make(map[int]*state)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := layerStartRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			detail := m[5]
			if len(detail) > maxDetail {
				detail = detail[:maxDetail-3] + "..."
			}
			steps[n] = &state{event: LayerEvent{
				Stage:       m[2],
				Step:        m[3],
				Instruction: strings.ToUpper(m[4]),
				Detail:      detail,
			}}
			continue
		}

		if m := cachedRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			if s, ok := steps[n]; ok {
				s.event.Cached = true
				s.done = true
			}
			continue
		}

		if m := doneRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			seconds, _ := strconv.ParseFloat(m[2], 64)
			if s, ok := steps[n]; ok {
				if !s.event.Cached {
					s.event.Duration = time.Duration(seconds * float64(time.Second))
				}
				s.done = true
			}
		}
	}

	nums := make([]int, 0, len(steps))
	for n, s := range steps {
		if s.done {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	events := make([]LayerEvent, 0, len(nums))
	for _, n := range nums {
		events = append(events, steps[n].event)
	}
	return events
}

// LogLayers writes one debug line per finished step and an info summary of
// cache hits.
func LogLayers(ctx context.Context, events []LayerEvent) {
	if len(events) == 0 {
		return
	}

	cached := 0
	for _, e := range events {
		if e.Cached {
			cached++
		}
		log.Entry(ctx).WithFields(logrus.Fields{
			"step":   e.Step,
			"cached": e.Cached,
		}).Debugf("%s %s (%s)", e.Instruction, e.Detail, formatLayerTiming(e))
	}
	log.Entry(ctx).Infof("Built %d layers, %d from cache.", len(events), cached)
}

func formatLayerTiming(e LayerEvent) string {
	switch {
	case e.Cached:
		return "cached"
	case e.Duration >= time.Minute:
		return strconv.FormatFloat(e.Duration.Minutes(), 'f', 1, 64) + "m"
	default:
		return strconv.FormatFloat(e.Duration.Seconds(), 'f', 1, 64) + "s"
	}
}
