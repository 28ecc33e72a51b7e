// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	yaml "gopkg.in/yaml.v3"
)

// SaveConfig writes the command's flags as a commented YAML config file.
// Flags left at their defaults are written commented out; values in
// overrides always win and are written uncommented.
func SaveConfig(cmd *cobra.Command, outfile string, overrides map[string]interface{}) error {
	flags := cmd.Flags()

	type entry struct {
		name    string
		usage   string
		value   interface{}
		changed bool
	}
	var entries []entry

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config-dir" || f.Name == "help" {
			return
		}
		if readBoolAnnotation(f, "setup") || readBoolAnnotation(f, "hidden") {
			return
		}

		value := interface{}(f.Value.String())
		changed := f.Changed
		if override, ok := overrides[f.Name]; ok {
			value = override
			changed = true
		}
		entries = append(entries, entry{
			name:    f.Name,
			usage:   f.Usage,
			value:   value,
			changed: changed,
		})
	})

	sort.Slice(entries, func(i, k int) bool { return entries[i].name < entries[k].name })

	var b strings.Builder
	for _, e := range entries {
		if e.usage != "" {
			b.WriteString("# ")
			b.WriteString(e.usage)
			b.WriteString("\n")
		}
		line, err := yaml.Marshal(map[string]interface{}{e.name: e.value})
		if err != nil {
			return errs.Wrap(err)
		}
		if !e.changed {
			b.WriteString("# ")
		}
		b.Write(line)
		b.WriteString("\n")
	}

	return atomicWrite(outfile, 0600, []byte(b.String()))
}

func readBoolAnnotation(flag *pflag.Flag, key string) bool {
	annotation := flag.Annotations[key]
	return len(annotation) > 0 && annotation[0] == "true"
}

// atomicWrite writes data to outfile through a rename.
func atomicWrite(outfile string, mode os.FileMode, data []byte) (err error) {
	fh, err := os.CreateTemp(filepath.Dir(outfile), filepath.Base(outfile))
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, fh.Close(), os.Remove(fh.Name()))
		}
	}()
	if _, err := fh.Write(data); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Sync(); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Chmod(mode); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Close(); err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(os.Rename(fh.Name(), outfile))
}
