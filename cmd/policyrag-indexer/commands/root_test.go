package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
	indexeruc "github.com/kailas-cloud/policyrag/internal/usecase/indexer"
)

type fakeIndexer struct {
	opts     []indexeruc.Options
	summary  *index.Summary
	indexErr error
	reindex  func(id string, force bool) (index.PolicyOutcome, error)
	deleted  []string
	stats    index.Stats
}

func (f *fakeIndexer) IndexAll(_ context.Context, opts indexeruc.Options) (*index.Summary, error) {
	f.opts = append(f.opts, opts)
	if f.summary == nil {
		return &index.Summary{}, f.indexErr
	}
	return f.summary, f.indexErr
}

func (f *fakeIndexer) ReindexPolicy(_ context.Context, id string, force bool) (index.PolicyOutcome, error) {
	return f.reindex(id, force)
}

func (f *fakeIndexer) DeletePolicy(_ context.Context, id string) (int, error) {
	if id == "NOPE" {
		return 0, fmt.Errorf("%s: %w", id, domain.ErrPolicyNotFound)
	}
	f.deleted = append(f.deleted, id)
	return 7, nil
}

func (f *fakeIndexer) Stats(context.Context) (index.Stats, error) { return f.stats, nil }

func run(t *testing.T, ix *fakeIndexer, args ...string) (string, error) {
	t.Helper()
	closed := false
	open := func(context.Context, string, string) (*Deps, error) {
		return &Deps{Indexer: ix, Close: func() error { closed = true; return nil }}, nil
	}
	cmd := NewRootCmd(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if err == nil && !closed {
		t.Error("deps were not closed")
	}
	return out.String(), err
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd(nil)

	if cmd.Use != "policyrag-indexer" {
		t.Errorf("Use = %q", cmd.Use)
	}
	want := map[string]bool{"index": false, "reindex": false, "delete": false, "stats": false, "watch": false}
	for _, c := range cmd.Commands() {
		want[c.Name()] = true
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q missing", name)
		}
	}
	for _, f := range []string{"env", "config", "format"} {
		if cmd.PersistentFlags().Lookup(f) == nil {
			t.Errorf("--%s flag not found", f)
		}
	}
}

func TestIndexCmd_PassesOptions(t *testing.T) {
	sum := &index.Summary{}
	sum.Record(index.NewOK("CVD-BP-001", index.Counts{Added: 7}, nil))
	ix := &fakeIndexer{summary: sum}

	out, err := run(t, ix, "index", "--policy", "CVD-BP-001", "--force")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(ix.opts) != 1 || !ix.opts[0].Force || len(ix.opts[0].PolicyIDs) != 1 {
		t.Errorf("options: %+v", ix.opts)
	}
	if !strings.Contains(out, "CVD-BP-001") || !strings.Contains(out, "7 added") {
		t.Errorf("output:\n%s", out)
	}
}

func TestIndexCmd_PartialFails(t *testing.T) {
	sum := &index.Summary{}
	sum.Record(index.NewOK("CVD-BP-001", index.Counts{Added: 7}, nil))
	sum.Record(index.NewFailed("LIF-SMK-001", index.Counts{Failed: 3}, domain.ErrProvider))

	out, err := run(t, &fakeIndexer{summary: sum}, "index")
	if !errors.Is(err, errPartial) {
		t.Errorf("err = %v, want errPartial", err)
	}
	if !strings.Contains(out, "LIF-SMK-001") {
		t.Errorf("failed policy not reported:\n%s", out)
	}
}

func TestIndexCmd_Busy(t *testing.T) {
	_, err := run(t, &fakeIndexer{indexErr: domain.ErrIndexBusy}, "index")
	if !errors.Is(err, domain.ErrIndexBusy) {
		t.Errorf("err = %v, want ErrIndexBusy", err)
	}
}

func TestIndexCmd_JSON(t *testing.T) {
	sum := &index.Summary{}
	sum.Record(index.NewOK("CVD-BP-001", index.Counts{Unchanged: 7}, nil))

	out, err := run(t, &fakeIndexer{summary: sum}, "index", "--format", "json")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	var got struct {
		Counts   index.Counts `json:"counts"`
		Policies []struct {
			PolicyID string `json:"policy_id"`
		} `json:"policies"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Counts.Unchanged != 7 || len(got.Policies) != 1 {
		t.Errorf("unexpected json: %+v", got)
	}
}

func TestRootCmd_BadFormat(t *testing.T) {
	_, err := run(t, &fakeIndexer{}, "stats", "--format", "yaml")
	if err == nil || !strings.Contains(err.Error(), "--format") {
		t.Errorf("err = %v", err)
	}
}

func TestReindexCmd(t *testing.T) {
	ix := &fakeIndexer{reindex: func(id string, force bool) (index.PolicyOutcome, error) {
		if !force {
			t.Error("force not passed")
		}
		return index.NewOK(id, index.Counts{Updated: 2}, nil), nil
	}}

	out, err := run(t, ix, "reindex", "CVD-BP-001", "--force")
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if !strings.Contains(out, "CVD-BP-001: ok") {
		t.Errorf("output: %q", out)
	}
}

func TestReindexCmd_All(t *testing.T) {
	ix := &fakeIndexer{}

	if _, err := run(t, ix, "reindex", "--all"); err != nil {
		t.Fatalf("reindex --all: %v", err)
	}
	if len(ix.opts) != 1 || !ix.opts[0].Force || len(ix.opts[0].PolicyIDs) != 0 {
		t.Errorf("options: %+v", ix.opts)
	}
}

func TestReindexCmd_Args(t *testing.T) {
	ix := &fakeIndexer{}
	if _, err := run(t, ix, "reindex"); err == nil {
		t.Error("reindex without id should fail")
	}
	if _, err := run(t, ix, "reindex", "--all", "CVD-BP-001"); err == nil {
		t.Error("reindex --all with id should fail")
	}
}

func TestDeleteCmd(t *testing.T) {
	ix := &fakeIndexer{}

	out, err := run(t, ix, "delete", "CVD-BP-001")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(ix.deleted) != 1 || !strings.Contains(out, "Removed 7") {
		t.Errorf("deleted %v, output %q", ix.deleted, out)
	}

	if _, err := run(t, ix, "delete", "NOPE"); !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Errorf("err = %v, want ErrPolicyNotFound", err)
	}
}

func TestStatsCmd(t *testing.T) {
	st := index.NewStats()
	st.TotalChunks, st.Policies, st.Model = 12, 2, "text-embedding-3-small"
	st.ByType["criteria"] = 6
	st.ByCategory["cardiovascular"] = 7

	out, err := run(t, &fakeIndexer{stats: st}, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, part := range []string{"text-embedding-3-small", "Chunks:   12", "criteria", "cardiovascular"} {
		if !strings.Contains(out, part) {
			t.Errorf("output missing %q:\n%s", part, out)
		}
	}
}

func TestWatchCmd_NeedsLocalFile(t *testing.T) {
	_, err := run(t, &fakeIndexer{}, "watch")
	if err == nil || !strings.Contains(err.Error(), "local corpus") {
		t.Errorf("err = %v", err)
	}
}

func TestOpenError(t *testing.T) {
	cmd := NewRootCmd(func(context.Context, string, string) (*Deps, error) {
		return nil, errors.New("no config")
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "initializing") {
		t.Errorf("err = %v", err)
	}
}
