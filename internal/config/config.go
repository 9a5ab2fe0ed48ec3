// Package config loads the conversion-parameters document: TOML by
// default, legacy YAML accepted for pre-0.2 parameter files, using
// github.com/BurntSushi/toml and gopkg.in/yaml.v2 respectively.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/eduardosm/svn2git/internal/xerrors"
)

// Raw is the on-disk shape of the parameters document, common to both
// TOML and YAML.
type Raw struct {
	Branches       []string          `toml:"branches" yaml:"branches"`
	Tags           []string          `toml:"tags" yaml:"tags"`
	RenameBranches map[string]string `toml:"rename-branches" yaml:"rename-branches"`
	RenameTags     map[string]string `toml:"rename-tags" yaml:"rename-tags"`

	KeepDeletedBranches *bool `toml:"keep-deleted-branches" yaml:"keep-deleted-branches"`
	KeepDeletedTags     *bool `toml:"keep-deleted-tags" yaml:"keep-deleted-tags"`

	PartialBranches []string `toml:"partial-branches" yaml:"partial-branches"`
	PartialTags     []string `toml:"partial-tags" yaml:"partial-tags"`

	Head              *string `toml:"head" yaml:"head"`
	UnbranchedName    *string `toml:"unbranched-name" yaml:"unbranched-name"`
	EnableMerges      *bool   `toml:"enable-merges" yaml:"enable-merges"`
	GenerateGitignore *bool   `toml:"generate-gitignore" yaml:"generate-gitignore"`

	DeleteFiles   []string `toml:"delete-files" yaml:"delete-files"`
	UserMapFile   *string  `toml:"user-map-file" yaml:"user-map-file"`
	MergeOptional []string `toml:"merge-optional" yaml:"merge-optional"`

	// AvoidFullyRevertedMerges and IgnoreMergesAt are escape hatches for
	// repositories whose recorded mergeinfo is known to be wrong.
	AvoidFullyRevertedMerges *bool              `toml:"avoid-fully-reverted-merges" yaml:"avoid-fully-reverted-merges"`
	IgnoreMergesAt           map[string][]string `toml:"ignore-merges-at" yaml:"ignore-merges-at"` // svn_rev (as string) -> source paths
}

// Options is the normalized, defaulted configuration Stage 1/Stage 2/the
// Refs Finaliser actually consume.
type Options struct {
	Branches       []string
	Tags           []string
	RenameBranches map[string]string
	RenameTags     map[string]string

	KeepDeletedBranches bool
	KeepDeletedTags     bool

	PartialBranches []string
	PartialTags     []string

	Head              string
	UnbranchedName    string
	EnableMerges      bool
	GenerateGitignore bool

	DeleteFiles   []string
	UserMapFile   string
	MergeOptional []string

	AvoidFullyRevertedMerges bool
	IgnoreMergesAt           map[int][]string
}

// Load reads and normalizes a parameters document. Format is chosen by
// extension: ".yaml"/".yml" parses as legacy YAML, everything else as TOML.
func Load(path string) (Options, error) {
	return LoadAs(path, false)
}

// LoadAs is Load with an override forcing legacy YAML regardless of the
// file's extension, for pre-0.2 parameter files that never adopted one.
func LoadAs(path string, forceYAML bool) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, xerrors.Wrap(xerrors.ConfigError, err, "reading %s", path)
	}

	var raw Raw
	ext := strings.ToLower(filepath.Ext(path))
	if forceYAML || ext == ".yaml" || ext == ".yml" {
		if err := yaml.UnmarshalStrict(data, &raw); err != nil {
			return Options{}, xerrors.Wrap(xerrors.ConfigError, err, "parsing legacy YAML parameters %s", path)
		}
	} else {
		md, err := toml.Decode(string(data), &raw)
		if err != nil {
			return Options{}, xerrors.Wrap(xerrors.ConfigError, err, "parsing TOML parameters %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Options{}, xerrors.New(xerrors.ConfigError, "unknown option(s) in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	return normalize(raw)
}

func normalize(raw Raw) (Options, error) {
	opts := Options{
		Branches:          raw.Branches,
		Tags:              raw.Tags,
		RenameBranches:    raw.RenameBranches,
		RenameTags:        raw.RenameTags,
		PartialBranches:   raw.PartialBranches,
		PartialTags:       raw.PartialTags,
		UnbranchedName:    derefString(raw.UnbranchedName, ""),
		EnableMerges:      derefBool(raw.EnableMerges, true),
		GenerateGitignore: derefBool(raw.GenerateGitignore, false),
		DeleteFiles:       raw.DeleteFiles,
		UserMapFile:       derefString(raw.UserMapFile, ""),
		MergeOptional:     raw.MergeOptional,

		KeepDeletedBranches: derefBool(raw.KeepDeletedBranches, true),
		KeepDeletedTags:     derefBool(raw.KeepDeletedTags, true),

		AvoidFullyRevertedMerges: derefBool(raw.AvoidFullyRevertedMerges, false),
	}
	opts.Head = derefString(raw.Head, "")

	if len(raw.IgnoreMergesAt) > 0 {
		opts.IgnoreMergesAt = make(map[int][]string, len(raw.IgnoreMergesAt))
		for revStr, paths := range raw.IgnoreMergesAt {
			rev, err := parseRev(revStr)
			if err != nil {
				return Options{}, xerrors.New(xerrors.ConfigError, "ignore-merges-at key %q: %v", revStr, err)
			}
			opts.IgnoreMergesAt[rev] = paths
		}
	}

	if len(opts.Branches) == 0 {
		return Options{}, xerrors.New(xerrors.ConfigError, "at least one branches glob is required")
	}

	return opts, nil
}

func derefBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func derefString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func parseRev(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}
