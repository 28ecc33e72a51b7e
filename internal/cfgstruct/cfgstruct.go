// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package cfgstruct binds a configuration struct to a pflag.FlagSet.
//
// Fields are declared with struct tags:
//
//	type Config struct {
//		Address string        `help:"address to listen on" default:":8080"`
//		Timeout time.Duration `help:"request ceiling" default:"30s"`
//	}
//
// Nested structs become dot-separated prefixes, so Server.Address binds the
// flag "server.address". CamelCase field names are lowercased and hyphenated.
package cfgstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Bind sets flags on a FlagSet from the fields of config, which must be a
// pointer to a struct. Unparseable defaults panic, since Bind runs during
// command construction.
func Bind(flags *pflag.FlagSet, config interface{}) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %T, expected pointer to struct", config))
	}
	bindConfig(flags, "", ptr.Elem())
}

func bindConfig(flags *pflag.FlagSet, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldval := val.Field(i)
		flagname := prefix + hyphenate(field.Name)

		if field.Tag.Get("internal") == "true" {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			if field.Anonymous {
				bindConfig(flags, prefix, fieldval)
			} else {
				bindConfig(flags, flagname+".", fieldval)
			}
			continue
		}

		help := field.Tag.Get("help")
		def := field.Tag.Get("default")
		fieldaddr := fieldval.Addr().Interface()

		switch field.Type {
		case reflect.TypeOf(time.Duration(0)):
			flags.DurationVar(fieldaddr.(*time.Duration), flagname, mustDuration(flagname, def), help)
		default:
			switch field.Type.Kind() {
			case reflect.String:
				flags.StringVar(fieldaddr.(*string), flagname, def, help)
			case reflect.Bool:
				flags.BoolVar(fieldaddr.(*bool), flagname, mustBool(flagname, def), help)
			case reflect.Int:
				flags.IntVar(fieldaddr.(*int), flagname, int(mustInt(flagname, def)), help)
			case reflect.Int64:
				flags.Int64Var(fieldaddr.(*int64), flagname, mustInt(flagname, def), help)
			case reflect.Uint:
				flags.UintVar(fieldaddr.(*uint), flagname, uint(mustUint(flagname, def)), help)
			case reflect.Uint64:
				flags.Uint64Var(fieldaddr.(*uint64), flagname, mustUint(flagname, def), help)
			case reflect.Float64:
				flags.Float64Var(fieldaddr.(*float64), flagname, mustFloat(flagname, def), help)
			default:
				panic(fmt.Sprintf("invalid field type %v for flag %q", field.Type, flagname))
			}
		}

		for _, annotation := range []string{"hidden", "setup", "user"} {
			if field.Tag.Get(annotation) == "true" {
				must(flags.SetAnnotation(flagname, annotation, []string{"true"}))
			}
		}
		if field.Tag.Get("hidden") == "true" {
			must(flags.MarkHidden(flagname))
		}
	}
}

// hyphenate converts a CamelCase field name into its lowercase hyphenated
// flag form, keeping acronym runs together: DatabaseURL -> database-url.
func hyphenate(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 && isUpper(r) {
			prevLower := !isUpper(runes[i-1])
			nextLower := i+1 < len(runes) && !isUpper(runes[i+1])
			if prevLower || nextLower {
				b.WriteByte('-')
			}
		}
		b.WriteRune(toLower(r))
	}
	return strings.ReplaceAll(b.String(), "_", "-")
}

func isUpper(r rune) bool { return 'A' <= r && r <= 'Z' }

func toLower(r rune) rune {
	if isUpper(r) {
		return r + ('a' - 'A')
	}
	return r
}

func mustDuration(name, def string) time.Duration {
	if def == "" {
		return 0
	}
	val, err := time.ParseDuration(def)
	if err != nil {
		panic(fmt.Sprintf("invalid duration default for %q: %v", name, err))
	}
	return val
}

func mustBool(name, def string) bool {
	if def == "" {
		return false
	}
	val, err := strconv.ParseBool(def)
	if err != nil {
		panic(fmt.Sprintf("invalid bool default for %q: %v", name, err))
	}
	return val
}

func mustInt(name, def string) int64 {
	if def == "" {
		return 0
	}
	val, err := strconv.ParseInt(def, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid int default for %q: %v", name, err))
	}
	return val
}

func mustUint(name, def string) uint64 {
	if def == "" {
		return 0
	}
	val, err := strconv.ParseUint(def, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid uint default for %q: %v", name, err))
	}
	return val
}

func mustFloat(name, def string) float64 {
	if def == "" {
		return 0
	}
	val, err := strconv.ParseFloat(def, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid float default for %q: %v", name, err))
	}
	return val
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
