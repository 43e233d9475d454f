package contextpack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mcprelay/mcprelay/internal/stablelist"
	"github.com/mcprelay/mcprelay/internal/vectorstore"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPack_InlinesSmallFiles(t *testing.T) {
	dir := t.TempDir()
	readme := writeFile(t, dir, "README.md", "hello world")

	stable, err := stablelist.Open(":memory:")
	require.NoError(t, err)
	defer stable.Close()

	p := New(stable, nil, vectorstore.Owner{Kind: vectorstore.OwnerSession, SessionID: "s1"})
	res, err := p.Pack(context.Background(), Request{
		SessionID:           "s1",
		TaskText:            "Say hello",
		Paths:               []string{readme},
		ContextWindowTokens: 1000,
	})
	require.NoError(t, err)
	require.Contains(t, res.Prompt, "hello world")
	require.Empty(t, res.OverflowPaths)
}

func TestPack_StableAcrossTurns(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "aaaa")

	stable, err := stablelist.Open(":memory:")
	require.NoError(t, err)
	defer stable.Close()

	p := New(stable, nil, vectorstore.Owner{Kind: vectorstore.OwnerSession, SessionID: "s1"})
	req := Request{SessionID: "s1", TaskText: "t", Paths: []string{a}, ContextWindowTokens: 1000}

	first, err := p.Pack(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Pack(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.Prompt, second.Prompt)
}

func TestPack_PriorityOverBudgetFails(t *testing.T) {
	dir := t.TempDir()
	big := writeFile(t, dir, "big.txt", stringsRepeat("x", 10000))

	stable, err := stablelist.Open(":memory:")
	require.NoError(t, err)
	defer stable.Close()

	p := New(stable, nil, vectorstore.Owner{Kind: vectorstore.OwnerSession, SessionID: "s1"})
	_, err = p.Pack(context.Background(), Request{
		SessionID:           "s1",
		TaskText:            "t",
		PriorityPaths:       []string{big},
		ContextWindowTokens: 10,
		InlineFraction:      0.5,
	})
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
