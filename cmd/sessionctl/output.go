package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/msull/misc/internal/model"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

type pageView struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
}

type sweepView struct {
	Backend string `json:"backend" yaml:"backend"`
	Deleted int64  `json:"deleted" yaml:"deleted"`
}

// recordView is a stored record with its payload decoded for display.
type recordView struct {
	Kind      string         `json:"kind" yaml:"kind"`
	ID        string         `json:"id" yaml:"id"`
	Version   int            `json:"version" yaml:"version"`
	Revision  int            `json:"revision" yaml:"revision"`
	Versioned bool           `json:"versioned" yaml:"versioned"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
	Payload   map[string]any `json:"payload" yaml:"payload"`
}

func newRecordView(rec model.Record) (recordView, error) {
	v := recordView{
		Kind:      rec.Kind,
		ID:        rec.ID,
		Version:   rec.Version,
		Revision:  rec.Revision,
		Versioned: rec.Versioned,
		UpdatedAt: rec.UpdatedAt.UTC(),
		Payload:   make(map[string]any, len(rec.Item)),
	}
	if rec.ExpiresAt != nil {
		t := time.Unix(*rec.ExpiresAt, 0).UTC()
		v.ExpiresAt = &t
	}
	for k, raw := range rec.Item {
		var val any
		if err := json.Unmarshal(raw, &val); err != nil {
			return recordView{}, fmt.Errorf("decode %s/%s field %q: %w", rec.Kind, rec.ID, k, err)
		}
		v.Payload[k] = val
	}
	return v, nil
}

func (v recordView) expires() string {
	if v.ExpiresAt == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", v.ExpiresAt.Format(time.RFC3339), humanize.Time(*v.ExpiresAt))
}

func (v recordView) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "kind\t%s\n", v.Kind)
	fmt.Fprintf(tw, "id\t%s\n", v.ID)
	fmt.Fprintf(tw, "revision\t%d\n", v.Revision)
	fmt.Fprintf(tw, "versioned\t%t\n", v.Versioned)
	fmt.Fprintf(tw, "expires\t%s\n", v.expires())
	fmt.Fprintf(tw, "updated\t%s (%s)\n", v.UpdatedAt.Format(time.RFC3339), humanize.Time(v.UpdatedAt))
	if err := tw.Flush(); err != nil {
		return err
	}

	keys := make([]string, 0, len(v.Payload))
	for k := range v.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "payload:")
	for _, k := range keys {
		b, err := json.Marshal(v.Payload[k])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s: %s\n", k, b)
	}
	return nil
}

func writeHistory(w io.Writer, views []recordView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tREVISION\tUPDATED\tEXPIRES")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", v.Version, v.Revision, humanize.Time(v.UpdatedAt), v.expires())
	}
	return tw.Flush()
}

// print renders v in the selected format; text output is delegated to text.
func (c *cli) print(v any, text func(w io.Writer) error) error {
	switch c.format {
	case formatJSON:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(c.out)
	}
}
