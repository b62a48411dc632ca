// ABOUTME: Typed view of the Zuul weeder export: jobs, their projects, and the
// ABOUTME: code hosting providers needed to turn file paths into web URLs.
package zuul

import (
	"encoding/json"
	"fmt"
)

// JobInfo is one Zuul job definition location.
type JobInfo struct {
	Name    string
	Parent  string
	Path    string
	Project string
}

// ProjectInfo names the branch and provider a project is hosted on.
type ProjectInfo struct {
	Name     string
	Branch   string
	Provider string
}

// ProviderInfo is a code hosting service. Kind discriminates the URL scheme
// used to link to a file in a project.
type ProviderInfo struct {
	Name string
	URL  string
	Kind string
}

// HTTPURL builds a browsable URL for a file in a project, or "" when the
// provider kind is unknown. review.opendev.org and opendev.org both resolve
// to the opendev cgit-style browser.
func (p ProviderInfo) HTTPURL(project, branch, path string) string {
	opendev := func() string {
		return fmt.Sprintf("https://opendev.org/%s/src/branch/%s/%s", project, branch, path)
	}
	switch p.Kind {
	case "GitlabUrl":
		return fmt.Sprintf("%s/%s/-/blob/%s/%s", p.URL, project, branch, path)
	case "GithubUrl":
		return fmt.Sprintf("%s/%s/blob/%s/%s", p.URL, project, branch, path)
	case "GerritUrl":
		if p.URL == "https://review.opendev.org" {
			return opendev()
		}
		base := trimSuffixes(p.URL, "/r", "/")
		return fmt.Sprintf("%s/cgit/%s/tree/%s?h=%s", base, project, path, branch)
	case "GitUrl":
		if p.URL == "https://opendev.org" {
			return opendev()
		}
	}
	return ""
}

func trimSuffixes(s string, suffixes ...string) string {
	for _, suffix := range suffixes {
		if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
			s = s[:len(s)-len(suffix)]
		}
	}
	return s
}

// Info is the decoded weeder export.
type Info struct {
	Jobs      map[string]JobInfo
	Projects  map[string]ProjectInfo
	Providers map[string]ProviderInfo
}

// JobURL returns the browsable URL of a job's definition file, or "" when
// the job or its provider is unknown. A non-empty path overrides the job's
// own definition path, for linking related files of the same project.
func (i *Info) JobURL(jobName, path string) string {
	job, ok := i.Jobs[jobName]
	if !ok {
		return ""
	}
	if path == "" {
		path = job.Path
	}
	project, ok := i.Projects[job.Project]
	if !ok {
		return ""
	}
	return i.Providers[project.Provider].HTTPURL(job.Project, project.Branch, path)
}

// Lineage returns the job and its ancestors, nearest first. Cycles and
// unknown parents terminate the walk.
func (i *Info) Lineage(jobName string) []JobInfo {
	var chain []JobInfo
	seen := make(map[string]bool)
	for jobName != "" && !seen[jobName] {
		seen[jobName] = true
		job, ok := i.Jobs[jobName]
		if !ok {
			break
		}
		chain = append(chain, job)
		jobName = job.Parent
	}
	return chain
}

type rawVariantLocation struct {
	Branch  string `json:"branch"`
	Path    string `json:"path"`
	Project struct {
		Project  string `json:"project"`
		Provider string `json:"provider"`
	} `json:"project"`
	URL struct {
		Contents string `json:"contents"`
		Tag      string `json:"tag"`
	} `json:"url"`
}

type rawVariantInfo struct {
	Parent string `json:"parent"`
}

// DecodeExport processes the raw weeder export. Each job maps to a list of
// [location, info] variant pairs; only the main/master variant is kept, and
// jobs without one are skipped.
func DecodeExport(raw json.RawMessage) (*Info, error) {
	var export struct {
		Jobs map[string][][]json.RawMessage `json:"jobs"`
	}
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("decode weeder export: %w", err)
	}

	info := &Info{
		Jobs:      make(map[string]JobInfo),
		Projects:  make(map[string]ProjectInfo),
		Providers: make(map[string]ProviderInfo),
	}
	for job, variants := range export.Jobs {
		for _, variant := range variants {
			if len(variant) != 2 {
				continue
			}
			var loc rawVariantLocation
			if err := json.Unmarshal(variant[0], &loc); err != nil {
				continue
			}
			if loc.Branch != "main" && loc.Branch != "master" {
				continue
			}
			var meta rawVariantInfo
			if err := json.Unmarshal(variant[1], &meta); err != nil {
				continue
			}

			projectName := loc.Project.Project
			if _, ok := info.Projects[projectName]; !ok {
				provider := loc.Project.Provider
				info.Projects[projectName] = ProjectInfo{
					Name:     projectName,
					Branch:   loc.Branch,
					Provider: provider,
				}
				if _, ok := info.Providers[provider]; !ok {
					info.Providers[provider] = ProviderInfo{
						Name: provider,
						URL:  trimSuffixes(loc.URL.Contents, "/"),
						Kind: loc.URL.Tag,
					}
				}
			}
			info.Jobs[job] = JobInfo{
				Name:    job,
				Parent:  meta.Parent,
				Path:    loc.Path,
				Project: projectName,
			}
			break
		}
	}
	return info, nil
}
