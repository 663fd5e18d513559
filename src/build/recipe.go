package build

import (
	"strings"

	"github.com/sofmeright/stowage/src/config"
)

// Fixed locations inside every generated image.
const (
	ImageWorkdir    = "/app"
	ImageConfigDir  = ".zenconfig"
	ImageConfigPath = ImageWorkdir + "/" + ImageConfigDir

	// DockerfileName is the recipe's file name in the build context.
	DockerfileName = "Dockerfile"
)

// Environment variables read by the pipeline runtime inside the image.
const (
	EnvEnableRepoInitWarnings = "ZENML_ENABLE_REPO_INIT_WARNINGS"
	EnvRequiresCodeDownload   = "ZENML_REQUIRES_CODE_DOWNLOAD"
	EnvConfigPath             = "ZENML_CONFIG_PATH"
)

// GenerateDockerfile renders the Dockerfile that layers requirements, OS
// packages, environment and source code on top of parentImage.
//
// Output depends only on the arguments. Environment variables are emitted in
// key order. apt packages install before any requirements file, and the USER
// switch is the last instruction before ENTRYPOINT.
func GenerateDockerfile(parentImage string, settings config.DockerSettings, downloadFiles bool, files []RequirementsFile, aptPackages []string, entrypoint string) string {
	lines := []string{"FROM " + parentImage, "WORKDIR " + ImageWorkdir}

	for _, key := range settings.SortedEnvironment() {
		lines = append(lines, "ENV "+strings.ToUpper(key)+"="+settings.Environment[key])
	}

	if len(aptPackages) > 0 {
		quoted := make([]string, len(aptPackages))
		for i, p := range aptPackages {
			quoted[i] = "'" + p + "'"
		}
		lines = append(lines, "RUN apt-get update && apt-get install -y --no-install-recommends "+strings.Join(quoted, " "))
	}

	for _, f := range files {
		lines = append(lines,
			"COPY "+f.Name+" .",
			"RUN pip install --default-timeout=60 --no-cache-dir "+strings.Join(f.Options, " ")+" -r "+f.Name,
		)
	}

	lines = append(lines, "ENV "+EnvEnableRepoInitWarnings+"=False")
	if downloadFiles {
		lines = append(lines, "ENV "+EnvRequiresCodeDownload+"=True")
	}
	lines = append(lines,
		"ENV "+EnvConfigPath+"="+ImageConfigPath,
		"COPY . .",
		"RUN chmod -R a+rw .",
	)

	if settings.User != "" {
		lines = append(lines,
			"RUN chown -R "+settings.User+" .",
			"USER "+settings.User,
		)
	}

	if entrypoint != "" {
		lines = append(lines, "ENTRYPOINT "+entrypoint)
	}

	return strings.Join(lines, "\n")
}
