package progress_test

import (
	"testing"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/progress"
	"github.com/stretchr/testify/require"
)

func TestBand(t *testing.T) {
	t.Parallel()
	b := progress.Band{From: 55, To: 90, PerChunk: 0.5}
	require.Equal(t, 55, b.At(0))
	require.Equal(t, 55, b.At(1))
	require.Equal(t, 56, b.At(2))
	require.Equal(t, 90, b.At(1000))

	tr := b.Tracker()
	prev := tr.Current()
	for range 500 {
		p := tr.Next()
		require.GreaterOrEqual(t, p, prev)
		require.LessOrEqual(t, p, 90)
		prev = p
	}
	require.Equal(t, 90, prev)
}

func TestTable(t *testing.T) {
	t.Parallel()
	table := progress.DefaultTable()
	for _, k := range model.Kinds() {
		p := table.Plan(k)
		require.LessOrEqual(t, p.Scan.From, p.Scan.To, k)
		require.LessOrEqual(t, p.Scan.To, p.Render.From, k)
		require.LessOrEqual(t, p.Render.To, p.Done, k)
	}
	clone := table.Plan(model.KindClone)
	require.Equal(t, 15, clone.Scan.From)
	require.Equal(t, 45, clone.Scan.To)
	require.Equal(t, progress.CloneDone, clone.Done)

	custom := progress.Table{model.KindSAST: {Scan: progress.Band{From: 0, To: 10}, Done: 10}}
	require.Equal(t, 10, custom.Plan(model.KindSAST).Done)
	require.Equal(t, 100, custom.Plan(model.KindVulnScan).Done, "missing kinds fall back to defaults")
}
