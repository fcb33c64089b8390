package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ledger"
	"github.com/mirajehossain/graphmigrate/internal/migrator"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

type statusItem struct {
	Env       string `json:"env"`
	Module    string `json:"module"`
	Node      string `json:"node"`
	Status    string `json:"status"` // applied|pending|drift
	Action    string `json:"action,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	AppliedAt string `json:"applied_at,omitempty"`
	AppliedBy string `json:"applied_by,omitempty"`
}

// printStatus writes one row per node and returns how many drifted.
func printStatus(w io.Writer, env string, rows []migrator.StatusRow, asJSON bool) int {
	drift := 0
	out := make([]statusItem, 0, len(rows))
	for _, r := range rows {
		it := statusItem{Env: env, Module: r.ID.Module, Node: r.ID.Name, Status: "pending"}
		if r.Applied {
			it.Status = "applied"
			it.Action = string(r.Record.Action)
			it.Checksum = r.Record.Checksum
			it.AppliedAt = r.Record.AppliedAt.Format(time.RFC3339)
			it.AppliedBy = r.Record.AppliedBy
		}
		if r.Drift {
			it.Status = "drift"
			drift++
		}
		out = append(out, it)
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(out)
		return drift
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ENV\tMODULE\tNODE\tSTATUS\tACTION\tCHECKSUM\tAPPLIED AT\n")
	for _, it := range out {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.Env, it.Module, it.Node, it.Status, dash(it.Action), dash(shortSum(it.Checksum)), dash(it.AppliedAt))
	}
	tw.Flush()
	return drift
}

func countApplied(rows []migrator.StatusRow) int {
	n := 0
	for _, r := range rows {
		if r.Applied {
			n++
		}
	}
	return n
}

func printRuns(w io.Writer, runs []ledger.Run, asJSON bool) {
	if asJSON {
		_ = json.NewEncoder(w).Encode(runs)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "RUN\tRUN ID\tSTARTED\tEVENTS\n")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", r.Run, r.RunID, r.Started.Format(time.RFC3339), r.Events)
	}
	tw.Flush()
}

// printRecords writes the ledger rows of one run.
func printRecords(w io.Writer, recs []ledger.Record, run int64, asJSON bool) {
	var sel []ledger.Record
	for _, r := range recs {
		if r.Run == run {
			sel = append(sel, r)
		}
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(sel)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ID\tMODULE\tNODE\tACTION\tCHECKSUM\tAT\tBY\tMS\n")
	for _, r := range sel {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.Module, r.Node, r.Action, shortSum(r.Checksum), r.AppliedAt.Format(time.RFC3339), r.AppliedBy, r.DurationMS)
	}
	tw.Flush()
}

type entityItem struct {
	Entity string   `json:"entity"`
	Table  string   `json:"table"`
	Fields []string `json:"fields"`
}

// printSchema writes the entity shapes a run left behind.
func printSchema(w io.Writer, st *schema.State, ids []graph.NodeID, asJSON bool) {
	var out []entityItem
	for _, name := range st.Entities() {
		e, _ := st.Entity(name)
		it := entityItem{Entity: e.Name, Table: e.Table}
		for _, f := range e.Fields {
			it.Fields = append(it.Fields, f.String())
		}
		out = append(out, it)
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]any{"nodes": len(ids), "entities": out})
		return
	}
	fmt.Fprintf(w, "\nschema after %d node(s):\n", len(ids))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ENTITY\tTABLE\tFIELDS\n")
	for _, it := range out {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.Entity, it.Table, strings.Join(it.Fields, ", "))
	}
	tw.Flush()
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
