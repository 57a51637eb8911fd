// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package report renders memory manager introspection results as text tables,
// JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"vmsim.dev/vmsim/pkg/vmm"
)

// Format selects how reports are rendered.
type Format string

// Supported formats.
const (
	Text Format = "text"
	JSON Format = "json"
	YAML Format = "yaml"
)

// Formats returns the supported format names.
func Formats() []string {
	return []string{string(Text), string(JSON), string(YAML)}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case Text, JSON, YAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported report format %q, must be one of %s", s, strings.Join(Formats(), ", "))
}

// Set implements flag.Value.
func (f *Format) Set(s string) error {
	v, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// String implements flag.Value.
func (f *Format) String() string {
	return string(*f)
}

// Get implements flag.Getter.
func (f *Format) Get() any {
	return *f
}

// Reporter writes reports to an io.Writer in a single format.
type Reporter struct {
	w      io.Writer
	format Format
}

// New returns a Reporter writing to w.
func New(w io.Writer, format Format) *Reporter {
	return &Reporter{w: w, format: format}
}

// Format returns the reporter's format.
func (r *Reporter) Format() Format {
	return r.format
}

// FreeSpaceReport is the structured form of a free space report.
type FreeSpaceReport struct {
	Title     string            `json:"title,omitempty" yaml:"title,omitempty"`
	FreeSpace vmm.FreeSpaceInfo `json:"free_space" yaml:"free_space"`
}

// MappingsReport is the structured form of a process mapping report.
type MappingsReport struct {
	Title    string        `json:"title,omitempty" yaml:"title,omitempty"`
	PID      vmm.PID       `json:"pid" yaml:"pid"`
	Mappings []vmm.Mapping `json:"mappings" yaml:"mappings"`
}

// FreeSpace reports free physical frames.
func (r *Reporter) FreeSpace(title string, info vmm.FreeSpaceInfo) error {
	if r.format != Text {
		return r.encode(FreeSpaceReport{Title: title, FreeSpace: info})
	}
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "%s\n", title)
	}
	fmt.Fprintf(&b, "Free frames: %d/%d\n", info.FreeFrames, info.TotalFrames)
	fmt.Fprintf(&b, "Free ranges: %s\n", formatRanges(info.Ranges))
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Mappings reports a process's page table.
func (r *Reporter) Mappings(title string, pid vmm.PID, maps []vmm.Mapping) error {
	if r.format != Text {
		return r.encode(MappingsReport{Title: title, PID: pid, Mappings: maps})
	}
	if title != "" {
		if _, err := fmt.Fprintf(r.w, "%s\n", title); err != nil {
			return err
		}
	}
	present := 0
	for _, m := range maps {
		if m.Present {
			present++
		}
	}
	if _, err := fmt.Fprintf(r.w, "Process %d: %d pages, %d mapped\n", pid, len(maps), present); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", "PAGE", "FRAME", "PRESENT"); err != nil {
		return err
	}
	for _, m := range maps {
		frame := "-"
		if m.Present {
			frame = fmt.Sprint(m.Frame)
		}
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%t\n", m.Page, frame, m.Present); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Config reports a kernel configuration.
func (r *Reporter) Config(cfg vmm.Config) error {
	if r.format != Text {
		return r.encode(cfg)
	}
	tw := tabwriter.NewWriter(r.w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "KERNEL_SPACE_SIZE=\t%d\n", cfg.KernelSpaceSize)
	fmt.Fprintf(tw, "VIRTUAL_SPACE_SIZE=\t%d\n", cfg.VirtualSpaceSize)
	fmt.Fprintf(tw, "PAGE_SIZE=\t%d\n", cfg.PageSize)
	fmt.Fprintf(tw, "MAX_PROCESS_NUM=\t%d\n", cfg.MaxProcessNum)
	fmt.Fprintf(tw, "FRAMES=\t%d\n", cfg.Frames())
	return tw.Flush()
}

// Stats reports activity counters.
func (r *Reporter) Stats(s vmm.Stats) error {
	if r.format != Text {
		return r.encode(s)
	}
	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "creates\t%d\n", s.Creates)
	fmt.Fprintf(tw, "exits\t%d\n", s.Exits)
	fmt.Fprintf(tw, "reads\t%d\n", s.Reads)
	fmt.Fprintf(tw, "writes\t%d\n", s.Writes)
	fmt.Fprintf(tw, "page faults\t%d\n", s.PageFaults)
	fmt.Fprintf(tw, "frames released\t%d\n", s.FramesReleased)
	names := make([]string, 0, len(s.Failures))
	for name := range s.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "failed %s\t%d\n", name, s.Failures[name])
	}
	return tw.Flush()
}

// State reports a full kernel snapshot.
func (r *Reporter) State(s vmm.State) error {
	if r.format != Text {
		return r.encode(s)
	}
	fmt.Fprintf(r.w, "Allocated pages: %d/%d\n", s.AllocatedPages, s.Config.Frames())
	fmt.Fprintf(r.w, "Occupied frames: %d\n", len(s.OccupiedFrames))
	fmt.Fprintf(r.w, "Running: %v\n", s.Running)

	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", "PID", "SIZE", "PAGES", "MAPPED")
	for _, pid := range s.Running {
		md := s.Descriptors[pid]
		mapped := 0
		for _, pte := range md.PageTable.Entries {
			if pte.Present {
				mapped++
			}
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", pid, md.Size, len(md.PageTable.Entries), mapped)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return r.Stats(s.Stats)
}

// Message writes a line of trace output. Structured formats drop it.
func (r *Reporter) Message(format string, v ...any) error {
	if r.format != Text {
		return nil
	}
	_, err := fmt.Fprintf(r.w, format+"\n", v...)
	return err
}

func (r *Reporter) encode(v any) error {
	switch r.format {
	case JSON:
		e := json.NewEncoder(r.w)
		e.SetIndent("", "  ")
		return e.Encode(v)
	case YAML:
		// Every report is a separate document.
		if _, err := io.WriteString(r.w, "---\n"); err != nil {
			return err
		}
		e := yaml.NewEncoder(r.w)
		e.SetIndent(2)
		if err := e.Encode(v); err != nil {
			return err
		}
		return e.Close()
	default:
		return fmt.Errorf("unsupported report format %q", r.format)
	}
}

// formatRanges renders frame ranges as half-open intervals.
func formatRanges(ranges []vmm.FrameRange) string {
	if len(ranges) == 0 {
		return "none"
	}
	parts := make([]string, len(ranges))
	for i, fr := range ranges {
		parts[i] = fmt.Sprintf("[%d, %d)", fr.Start, fr.End)
	}
	return strings.Join(parts, " ")
}
