package jenkins

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strings"

	"buildhook/internal"
	"buildhook/internal/jobs"
)

const inverseChooserPart = "InverseBuildChooser"

// parsedConfig is the job information extracted from one config.xml.
type parsedConfig struct {
	SCM           []jobs.SCMConfig
	Parameters    []jobs.Parameter
	Parameterized bool
	IgnoreNotify  bool
}

type xmlConfig struct {
	SCM        xmlSCM        `xml:"scm"`
	Properties xmlProperties `xml:"properties"`
}

type xmlSCM struct {
	Class        string          `xml:"class,attr"`
	Remotes      []xmlRemote     `xml:"userRemoteConfigs>hudson.plugins.git.UserRemoteConfig"`
	Branches     []xmlBranchSpec `xml:"branches>hudson.plugins.git.BranchSpec"`
	IgnoreNotify string          `xml:"ignoreNotifyCommit"`
	BuildChooser struct {
		Class string `xml:"class,attr"`
	} `xml:"buildChooser"`
	Extensions xmlExtensions `xml:"extensions"`
	Nested     []xmlSCM      `xml:"scms>hudson.plugins.git.GitSCM"`
}

type xmlRemote struct {
	Name    string `xml:"name"`
	Refspec string `xml:"refspec"`
	URL     string `xml:"url"`
}

type xmlBranchSpec struct {
	Name string `xml:"name"`
}

type xmlExtensions struct {
	PreBuildMerge struct {
		Options struct {
			MergeTarget string `xml:"mergeTarget"`
		} `xml:"options"`
	} `xml:"hudson.plugins.git.extensions.impl.PreBuildMerge"`
}

type xmlProperties struct {
	ParameterProperties []struct {
		Definitions xmlParameterDefinitions `xml:"parameterDefinitions"`
	} `xml:"hudson.model.ParametersDefinitionProperty"`
}

type xmlParameterDefinitions struct {
	Any []xmlParameter `xml:",any"`
}

type xmlParameter struct {
	XMLName xml.Name
	Name    string   `xml:"name"`
	Default string   `xml:"defaultValue"`
	Choices []string `xml:"choices>a>string"`
}

// parseConfig extracts the matching-relevant parts of a job's config.xml.
// Unreadable or non-git configurations yield an empty SCM list, which
// never matches.
func parseConfig(raw []byte) parsedConfig {
	var cfg xmlConfig
	if err := xml.Unmarshal(raw, &cfg); err != nil {
		return parsedConfig{}
	}

	out := parsedConfig{}
	switch {
	case strings.Contains(cfg.SCM.Class, "GitSCM"):
		out.SCM = []jobs.SCMConfig{convertSCM(cfg.SCM, jobs.KindGit)}
		out.IgnoreNotify = cfg.SCM.IgnoreNotify == "true"
	case strings.Contains(strings.ToLower(cfg.SCM.Class), "multiplescms"):
		for _, nested := range cfg.SCM.Nested {
			out.SCM = append(out.SCM, convertSCM(nested, jobs.KindMultiSCM))
			if nested.IgnoreNotify == "true" {
				out.IgnoreNotify = true
			}
		}
	}

	for _, prop := range cfg.Properties.ParameterProperties {
		out.Parameterized = true
		for _, def := range prop.Definitions.Any {
			out.Parameters = append(out.Parameters, jobs.Parameter{
				Name:    def.Name,
				Type:    parameterType(def.XMLName.Local),
				Default: def.Default,
				Choices: def.Choices,
			})
		}
	}
	return out
}

func convertSCM(src xmlSCM, kind jobs.Kind) jobs.SCMConfig {
	cfg := jobs.SCMConfig{
		Kind:        kind,
		Inverse:     strings.Contains(src.BuildChooser.Class, inverseChooserPart),
		MergeTarget: src.Extensions.PreBuildMerge.Options.MergeTarget,
	}
	for _, remote := range src.Remotes {
		r := jobs.Remote{Name: remote.Name, URL: remote.URL}
		if remote.Refspec != "" {
			r.Refspecs = strings.Fields(remote.Refspec)
		}
		cfg.Remotes = append(cfg.Remotes, r)
	}
	for _, branch := range src.Branches {
		cfg.BranchSpecs = append(cfg.BranchSpecs, strings.TrimSpace(branch.Name))
	}
	return cfg
}

func parameterType(element string) string {
	switch {
	case strings.Contains(element, "StringParameterDefinition"):
		return jobs.ParamString
	case strings.Contains(element, "ChoiceParameterDefinition"):
		return jobs.ParamChoice
	default:
		return jobs.ParamOther
	}
}

var (
	branchesBlockRe  = regexp.MustCompile(`(?s)<branches>.*?</branches>`)
	scmTriggerSpecRe = regexp.MustCompile(`(?s)(<hudson\.triggers\.SCMTrigger>\s*<spec>).*?(</spec>)`)
	mergeTargetRe    = regexp.MustCompile(`(?s)<mergeTarget>.*?</mergeTarget>`)
	extensionsEndRe  = regexp.MustCompile(`</extensions>`)
	emptyExtensionsRe = regexp.MustCompile(`<extensions\s*/>`)
)

// rewriteBranch edits a config.xml in place: the branches block is
// replaced with the single remote-qualified branch, the polling trigger
// spec is cleared, and an optional pre-build merge target is set. The
// rewrite is textual so everything else in the file survives untouched.
func rewriteBranch(raw []byte, branch, mergeTarget string) ([]byte, error) {
	var cfg xmlConfig
	if err := xml.Unmarshal(raw, &cfg); err != nil {
		return nil, internal.Configurationf("unparsable job configuration: %v", err)
	}
	if !strings.Contains(cfg.SCM.Class, "GitSCM") {
		return nil, internal.Configurationf("job configuration is not a plain git setup")
	}
	remote := "origin"
	if len(cfg.SCM.Remotes) > 0 && cfg.SCM.Remotes[0].Name != "" {
		remote = cfg.SCM.Remotes[0].Name
	}
	if len(cfg.SCM.Remotes) == 0 || cfg.SCM.Remotes[0].URL == "" {
		return nil, internal.Configurationf("job configuration has no git remote url")
	}

	spec := remote + "/" + branch
	branchesBlock := "<branches><hudson.plugins.git.BranchSpec><name>" +
		escapeXML(spec) + "</name></hudson.plugins.git.BranchSpec></branches>"
	if !branchesBlockRe.Match(raw) {
		return nil, internal.Configurationf("job configuration has no branches block")
	}
	// Literal replacement: branch names may contain $ which ReplaceAll
	// would expand as a group reference.
	out := branchesBlockRe.ReplaceAllLiteral(raw, []byte(branchesBlock))
	out = scmTriggerSpecRe.ReplaceAll(out, []byte("${1}${2}"))

	if mergeTarget != "" {
		target := []byte("<mergeTarget>" + escapeXML(mergeTarget) + "</mergeTarget>")
		switch {
		case mergeTargetRe.Match(out):
			out = mergeTargetRe.ReplaceAllLiteral(out, target)
		default:
			block := []byte("<hudson.plugins.git.extensions.impl.PreBuildMerge><options>" +
				"<mergeRemote>" + escapeXML(remote) + "</mergeRemote>" +
				string(target) +
				"<mergeStrategy>default</mergeStrategy><fastForwardMode>FF</fastForwardMode>" +
				"</options></hudson.plugins.git.extensions.impl.PreBuildMerge>")
			if emptyExtensionsRe.Match(out) {
				out = emptyExtensionsRe.ReplaceAllLiteral(out, append(append([]byte("<extensions>"), block...), []byte("</extensions>")...))
			} else if extensionsEndRe.Match(out) {
				out = extensionsEndRe.ReplaceAllLiteral(out, append(block, []byte("</extensions>")...))
			} else {
				return nil, internal.Configurationf("job configuration has no extensions block for the merge target")
			}
		}
	}
	return out, nil
}

func escapeXML(value string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(value))
	return buf.String()
}
