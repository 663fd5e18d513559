package engines

import (
	"fmt"
	"sort"
	"strconv"
)

// buildOptions are the docker build flags understood by every engine.
type buildOptions struct {
	Pull      bool
	Remove    *bool
	NoCache   bool
	Target    string
	Platform  string
	BuildArgs map[string]string
	Labels    map[string]string
}

// parseOptions reads the build options map produced by the planner or
// taken from build_options in the config.
func parseOptions(opts map[string]any) (buildOptions, error) {
	var o buildOptions
	for k, v := range opts {
		var err error
		switch k {
		case "pull":
			o.Pull, err = asBool(k, v)
		case "rm":
			var rm bool
			rm, err = asBool(k, v)
			o.Remove = &rm
		case "no_cache", "nocache":
			o.NoCache, err = asBool(k, v)
		case "target":
			o.Target = fmt.Sprint(v)
		case "platform":
			o.Platform = fmt.Sprint(v)
		case "build_args", "buildargs":
			o.BuildArgs, err = asStringMap(k, v)
		case "labels":
			o.Labels, err = asStringMap(k, v)
		default:
			err = fmt.Errorf("unsupported build option %q", k)
		}
		if err != nil {
			return buildOptions{}, err
		}
	}
	return o, nil
}

// flags renders the options as docker build flags in a stable order.
func (o buildOptions) flags() []string {
	var args []string
	if o.Pull {
		args = append(args, "--pull")
	}
	if o.Remove != nil {
		args = append(args, "--rm="+strconv.FormatBool(*o.Remove))
	}
	if o.NoCache {
		args = append(args, "--no-cache")
	}
	if o.Target != "" {
		args = append(args, "--target", o.Target)
	}
	if o.Platform != "" {
		args = append(args, "--platform", o.Platform)
	}
	for _, k := range sortedKeys(o.BuildArgs) {
		args = append(args, "--build-arg", k+"="+o.BuildArgs[k])
	}
	for _, k := range sortedKeys(o.Labels) {
		args = append(args, "--label", k+"="+o.Labels[k])
	}
	return args
}

func asBool(key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("build option %q: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("build option %q: expected bool, got %T", key, v)
}

func asStringMap(key string, v any) (map[string]string, error) {
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	case map[string]any:
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
	default:
		return nil, fmt.Errorf("build option %q: expected mapping, got %T", key, v)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
