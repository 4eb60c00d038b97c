// Package configedit edits config.toml in place while preserving
// comments and formatting for everything it doesn't touch.
//
// Grounded on codex-rs/core/src/config_edit.rs: overrides are applied
// as explicit key-path segments (never a dotted string, so a key
// containing a literal dot is unambiguous), profile-scoped overrides
// are rewritten under ["profiles", name, ...], and writes go through a
// temp-file-in-the-same-directory + atomic rename, matching
// NamedTempFile::new_in(codex_home) + tmp_file.persist(config_path).
//
// No library in the retrieval pack preserves TOML comments on edit (the
// one TOML library in the pack, pelletier/go-toml/v2, is a
// marshal/unmarshal codec with no comment-preserving document API) —
// see DESIGN.md for why this package hand-rolls the segment-level text
// splice instead, and uses go-toml/v2 only to validate the result
// parses.
package configedit

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Document is an in-memory, comment-preserving TOML document, edited by
// explicit key-path segment rather than by re-serializing the whole
// tree.
type Document struct {
	// sections are ordered top-level-and-nested table bodies, keyed by
	// their dotted path ("" is the root/preamble before any header).
	order    []string
	sections map[string]*section
}

type section struct {
	header string // e.g. `[profiles.dev]`; empty for the root section
	lines  []string
}

// Parse reads a TOML document's raw text into an editable Document.
// Parse never validates semantics — it only splits text into sections
// by `[...]` table headers so edits can target one section's body.
// `[[...]]` array-of-tables lines are not treated as headers; they are
// kept as ordinary body lines of the section they appear in.
func Parse(text string) *Document {
	d := &Document{sections: make(map[string]*section)}
	d.order = append(d.order, "")
	d.sections[""] = &section{}

	current := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") && !strings.HasPrefix(trimmed, "[[") {
			path := strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
			path = strings.TrimSpace(path)
			current = path
			if _, ok := d.sections[current]; !ok {
				d.order = append(d.order, current)
				d.sections[current] = &section{header: trimmed}
			}
			continue
		}
		d.sections[current].lines = append(d.sections[current].lines, line)
	}
	return d
}

// sectionFor returns (creating if needed) the section for a dotted
// path, matching apply_toml_edit_override_segments's
// implicit-intermediate-table behavior: only the named table gets a
// header; its ancestor tables are left implicit in the dotted header.
func (d *Document) sectionFor(path string) *section {
	if s, ok := d.sections[path]; ok {
		return s
	}
	s := &section{header: fmt.Sprintf("[%s]", path)}
	d.order = append(d.order, path)
	d.sections[path] = s
	return s
}

// SetString applies segments = value, creating any intermediate tables
// implicitly, matching apply_toml_edit_override_segments. The last
// segment is the key; everything before it is the table path.
func (d *Document) SetString(segments []string, value string) error {
	return d.set(segments, quoteTOMLString(value))
}

// SetRaw applies segments = rawValue, where rawValue is a literal TOML
// scalar (e.g. "true", "42", `"already-quoted"`), for values whose TOML
// representation the caller has already computed.
func (d *Document) SetRaw(segments []string, rawValue string) error {
	return d.set(segments, rawValue)
}

func (d *Document) set(segments []string, rawValue string) error {
	if len(segments) == 0 {
		return fmt.Errorf("configedit: empty key path")
	}
	path := strings.Join(segments[:len(segments)-1], ".")
	key := segments[len(segments)-1]
	s := d.sectionFor(path)

	line := fmt.Sprintf("%s = %s", key, rawValue)
	for i, existing := range s.lines {
		k, _, ok := splitKeyLine(existing)
		if ok && k == key {
			s.lines[i] = line
			return nil
		}
	}
	s.lines = append(s.lines, line)
	return nil
}

// Remove deletes segments' key from its table, returning whether it was
// present, matching remove_toml_edit_segments.
func (d *Document) Remove(segments []string) bool {
	if len(segments) == 0 {
		return false
	}
	path := strings.Join(segments[:len(segments)-1], ".")
	key := segments[len(segments)-1]
	s, ok := d.sections[path]
	if !ok {
		return false
	}
	for i, existing := range s.lines {
		k, _, ok := splitKeyLine(existing)
		if ok && k == key {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return true
		}
	}
	return false
}

// String renders the document back to TOML text, sections in their
// original (or append) order.
func (d *Document) String() string {
	var b strings.Builder
	for i, path := range d.order {
		s := d.sections[path]
		if path != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(s.header)
			b.WriteString("\n")
		}
		for _, line := range s.lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		_ = i
	}
	return b.String()
}

// splitKeyLine extracts a line's key if it looks like `key = value`
// (ignoring comment-only or blank lines), tolerating leading
// whitespace.
func splitKeyLine(line string) (key string, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	idx := strings.Index(trimmed, "=")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(trimmed[:idx]), strings.TrimSpace(trimmed[idx+1:]), true
}

func quoteTOMLString(value string) string {
	return strconv.Quote(value)
}

// Override is one explicit key-path/value pair to persist, matching
// the `(&[&str], &str)` override tuples in persist_overrides.
type Override struct {
	Segments []string
	Value    *string // nil means "clear" under NoneRemove, or "skip" under NoneSkip
}

// NoneBehavior controls what a nil-valued Override does.
type NoneBehavior int

const (
	// NoneSkip leaves any existing value untouched (default for most
	// callers).
	NoneSkip NoneBehavior = iota
	// NoneRemove deletes any existing value from the document.
	NoneRemove
)

// PersistOverrides reads configHome/config.toml (treating a missing
// file as an empty document), applies overrides — profile-scoped under
// ["profiles", profile, ...] when a profile is in effect (profile, or
// the document's own root `profile` key when profile is empty) and a
// segment doesn't already start with "profiles" — and atomically rewrites the
// file iff at least one override actually mutated it, matching
// persist_overrides_with_behavior.
func PersistOverrides(configHome, profile string, overrides []Override, none NoneBehavior) error {
	if len(overrides) == 0 {
		return nil
	}
	if none == NoneSkip {
		allNil := true
		for _, o := range overrides {
			if o.Value != nil {
				allNil = false
				break
			}
		}
		if allNil {
			return nil
		}
	}

	configPath := filepath.Join(configHome, "config.toml")
	data, err := os.ReadFile(configPath)
	var doc *Document
	switch {
	case err == nil:
		doc = Parse(string(data))
	case os.IsNotExist(err):
		if none == NoneRemove {
			allNilRemove := true
			for _, o := range overrides {
				if o.Value != nil {
					allNilRemove = false
					break
				}
			}
			if allNilRemove {
				return nil
			}
		}
		if err := os.MkdirAll(configHome, 0o755); err != nil {
			return err
		}
		doc = Parse("")
	default:
		return err
	}

	effectiveProfile := profile
	if effectiveProfile == "" {
		if existing, ok := doc.sections[""]; ok {
			for _, line := range existing.lines {
				if k, v, ok := splitKeyLine(line); ok && k == "profile" {
					effectiveProfile = strings.Trim(v, `"`)
				}
			}
		}
	}

	mutated := false
	for _, o := range overrides {
		segments := o.Segments
		if effectiveProfile != "" && (len(segments) == 0 || segments[0] != "profiles") {
			segments = append([]string{"profiles", effectiveProfile}, segments...)
		}
		if o.Value != nil {
			if err := doc.SetString(segments, *o.Value); err != nil {
				return err
			}
			mutated = true
		} else if none == NoneRemove {
			if doc.Remove(segments) {
				mutated = true
			}
		}
	}
	if !mutated {
		return nil
	}

	rendered := doc.String()
	return atomicWrite(configHome, configPath, rendered)
}

// Validate parses rendered TOML text with go-toml/v2 purely to confirm
// it is well-formed after editing; the segment splicer above never
// consults this for the edit itself.
func Validate(rendered string) error {
	var probe map[string]any
	return toml.Unmarshal([]byte(rendered), &probe)
}

func atomicWrite(dir, finalPath, content string) error {
	tmp, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, finalPath)
}
