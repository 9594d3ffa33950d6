package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/ablation-harness/internal/artifact"
	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/harness"
	"github.com/danielpatrickdp/ablation-harness/internal/ledger"
)

// #region helpers
type result struct {
	code   int
	stdout string
	stderr string
}

func execute(t *testing.T, args ...string) result {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	args = append(args, "--log-level", "error")
	code := ExecuteContext(context.Background(), root, args, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func readResults(t *testing.T, dir string) harness.Results {
	t.Helper()
	var res harness.Results
	require.NoError(t, artifact.ReadJSON(filepath.Join(dir, artifact.ResultsFile), &res))
	return res
}

func listEntries(t *testing.T, dir string) []ledger.Entry {
	t.Helper()
	r := execute(t, "ledger", "list", "--out", dir, "--json")
	require.Equal(t, errs.ExitOK, r.code, r.stderr)
	var entries []ledger.Entry
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &entries))
	return entries
}

// #endregion helpers

// #region root-tests
func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "harness", root.Use)
	assert.NotEmpty(t, root.Example)

	for _, path := range [][]string{{"run"}, {"verify"}, {"ledger", "list"}, {"ledger", "correct"}, {"replay"}, {"scorer", "serve"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	for _, name := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}
}

func TestUsageErrorsAreArgumentProblems(t *testing.T) {
	tests := map[string][]string{
		"unknown flag":     {"run", "--bogus"},
		"unknown command":  {"frobnicate"},
		"positional args":  {"verify", "extra"},
		"required flag":    {"ledger", "correct", "--out", t.TempDir()},
		"exclusive flags":  {"ledger", "list", "--json", "--yaml"},
		"bad backend":      {"run", "--out", t.TempDir(), "--ledger", "postgres"},
		"grpc needs addr":  {"run", "--out", t.TempDir(), "--scorer", "grpc"},
		"bad config ext":   {"run", "--config", "harness.toml"},
		"no fixture files": {"replay", "--fixture", t.TempDir()},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			r := execute(t, args...)
			assert.Equal(t, errs.ExitArgument, r.code, r.stderr)
			assert.Contains(t, r.stderr, "argument problem")
		})
	}
}

// #endregion root-tests

// #region run-tests
func TestRunRecordsDecision(t *testing.T) {
	dir := t.TempDir()
	r := execute(t, "run", "--out", dir, "--seed", "7", "--run-id", "cli-1")
	require.Equal(t, errs.ExitOK, r.code, r.stderr)

	assert.Contains(t, r.stdout, "AEQ ")
	assert.Contains(t, r.stdout, "overall")
	for _, name := range []string{artifact.PreregFile, artifact.ResultsFile, artifact.LedgerFile, artifact.ManifestFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, artifact.BlindMapFile))

	res := readResults(t, dir)
	assert.Equal(t, "cli-1", res.RunID)
	assert.Equal(t, int64(7), res.Seed)
	assert.Len(t, res.Metrics, 3)

	entries := listEntries(t, dir)
	require.Len(t, entries, 1)
	assert.Equal(t, res.AEQ, entries[0].AEQ)
	assert.Equal(t, res.Overall, entries[0].Overall)
}

func TestRunFailingGatesStillExitZero(t *testing.T) {
	dir := t.TempDir()
	r := execute(t, "run", "--out", dir, "--delta-min", "0.9")
	require.Equal(t, errs.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "FAIL")

	res := readResults(t, dir)
	assert.False(t, res.Overall)
}

func TestRunJSONOutput(t *testing.T) {
	dir := t.TempDir()
	r := execute(t, "run", "--out", dir, "--json")
	require.Equal(t, errs.ExitOK, r.code, r.stderr)

	var res harness.Results
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &res))
	assert.Equal(t, readResults(t, dir).AEQ, res.AEQ)
}

func TestRunTwiceAppendsTwice(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, errs.ExitOK, execute(t, "run", "--out", dir).code)
	require.Equal(t, errs.ExitOK, execute(t, "run", "--out", dir).code)

	entries := listEntries(t, dir)
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].AEQ, entries[1].AEQ)
	assert.NotEqual(t, entries[0].RunID, entries[1].RunID)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
}

func TestRunRefusesDifferentPreregistration(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, errs.ExitOK, execute(t, "run", "--out", dir).code)

	r := execute(t, "run", "--out", dir, "--delta-min", "0.01")
	assert.Equal(t, errs.ExitPreregistration, r.code)
	assert.Contains(t, r.stderr, "preregistration problem")
	assert.Len(t, listEntries(t, dir), 1)
}

func TestRunBlind(t *testing.T) {
	t.Run("withheld", func(t *testing.T) {
		dir := t.TempDir()
		r := execute(t, "run", "--out", dir, "--blind")
		require.Equal(t, errs.ExitOK, r.code, r.stderr)

		res := readResults(t, dir)
		assert.Empty(t, res.Metrics)
		assert.Len(t, res.BlindedMetrics, 3)
		assert.NoFileExists(t, filepath.Join(dir, artifact.BlindMapFile))
		assert.NotContains(t, r.stdout, "blind map:")
	})
	t.Run("revealed", func(t *testing.T) {
		dir := t.TempDir()
		r := execute(t, "run", "--out", dir, "--blind", "--reveal")
		require.Equal(t, errs.ExitOK, r.code, r.stderr)

		res := readResults(t, dir)
		assert.Len(t, res.Metrics, 3)
		assert.Len(t, res.BlindMap, 3)
		assert.FileExists(t, filepath.Join(dir, artifact.BlindMapFile))
		assert.Contains(t, r.stdout, "blind map:")
	})
}

func TestRunSQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	r := execute(t, "run", "--out", dir, "--ledger", "sqlite")
	require.Equal(t, errs.ExitOK, r.code, r.stderr)
	assert.FileExists(t, filepath.Join(dir, artifact.LedgerDBFile))

	r = execute(t, "verify", "--out", dir, "--ledger", "sqlite")
	assert.Equal(t, errs.ExitOK, r.code, r.stderr)
}

func TestRunConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "harness.yaml")
	content := "out_dir: " + dir + "\nseed: 99\nthresholds:\n  delta_min: 0.02\n  control_max: 0.03\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	r := execute(t, "run", "--config", cfgPath)
	require.Equal(t, errs.ExitOK, r.code, r.stderr)

	res := readResults(t, dir)
	assert.Equal(t, int64(99), res.Seed)
	delta, ok := res.Decision().Gate("delta")
	require.True(t, ok)
	require.NotNil(t, delta.Threshold)
	assert.Equal(t, 0.02, *delta.Threshold)
}

// #endregion run-tests

// #region verify-tests
func TestVerify(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, errs.ExitOK, execute(t, "run", "--out", dir).code)

	r := execute(t, "verify", "--out", dir)
	assert.Equal(t, errs.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "1 ledger entries")

	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.ResultsFile), []byte("{}"), 0o644))
	r = execute(t, "verify", "--out", dir, "--json")
	assert.Equal(t, errs.ExitStorage, r.code)

	var report harness.Report
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &report))
	assert.False(t, report.OK())
	require.NotEmpty(t, report.Mismatches)
	assert.Equal(t, artifact.ResultsFile, report.Mismatches[0].File)
}

func TestVerifyWithoutRun(t *testing.T) {
	r := execute(t, "verify", "--out", t.TempDir())
	assert.Equal(t, errs.ExitPreregistration, r.code)
}

// #endregion verify-tests

// #region ledger-tests
func TestLedgerListFormats(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, errs.ExitOK, execute(t, "run", "--out", dir).code)
	aeq := string(readResults(t, dir).AEQ)

	r := execute(t, "ledger", "list", "--out", dir)
	require.Equal(t, errs.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "SEQ")
	assert.Contains(t, r.stdout, aeq)

	r = execute(t, "ledger", "list", "--out", dir, "--yaml")
	require.Equal(t, errs.ExitOK, r.code, r.stderr)
	var docs []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(r.stdout), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, aeq, docs[0]["aeq"])

	r = execute(t, "ledger", "list", "--out", dir, "--aeq", "000000000000")
	require.Equal(t, errs.ExitOK, r.code)
	assert.Contains(t, r.stdout, "No ledger entries.")
}

func TestLedgerCorrect(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, errs.ExitOK, execute(t, "run", "--out", dir).code)
	res := readResults(t, dir)

	r := execute(t, "ledger", "correct", "--out", dir, "--aeq", string(res.AEQ), "--note", "scorer bug")
	require.Equal(t, errs.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "correction 2 recorded")

	entries := listEntries(t, dir)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EventDecision, entries[0].Event)
	assert.Equal(t, ledger.EventCorrection, entries[1].Event)
	require.NotNil(t, entries[1].Corrects)
	assert.Equal(t, res.CID, entries[1].Corrects.CID)
	assert.Equal(t, "scorer bug", entries[1].Note)

	r = execute(t, "ledger", "correct", "--out", dir, "--aeq", "000000000000", "--note", "x")
	assert.Equal(t, errs.ExitArgument, r.code)

	r = execute(t, "verify", "--out", dir)
	assert.Equal(t, errs.ExitOK, r.code, r.stderr)
}

// #endregion ledger-tests

// #region replay-tests
func TestReplayRun(t *testing.T) {
	for _, args := range [][]string{{}, {"--blind"}, {"--blind", "--reveal"}} {
		dir := t.TempDir()
		require.Equal(t, errs.ExitOK, execute(t, append([]string{"run", "--out", dir}, args...)...).code)

		r := execute(t, "replay", "--out", dir)
		assert.Equal(t, errs.ExitOK, r.code, r.stderr)
		assert.Contains(t, r.stdout, "reproduced")
	}
}

func TestReplayDetectsEditedDecision(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, errs.ExitOK, execute(t, "run", "--out", dir).code)

	res := readResults(t, dir)
	res.Overall = !res.Overall
	for i := range res.Gates {
		res.Gates[i].Pass = !res.Gates[i].Pass
	}
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.ResultsFile), raw, 0o644))

	r := execute(t, "replay", "--out", dir)
	assert.Equal(t, errs.ExitStorage, r.code)
	assert.Contains(t, r.stdout, "drift")
}

func TestReplayFixtures(t *testing.T) {
	r := execute(t, "replay", "--fixture", filepath.Join("..", "replay", "testdata"))
	assert.Equal(t, errs.ExitOK, r.code, r.stderr)
	assert.NotContains(t, r.stdout, "drift")

	drifted := filepath.Join(t.TempDir(), "drift.json")
	fixture := `{"description": "wrong expectation", "thresholds": {"delta_min": 0.05, "control_max": 0.01},
"seed": 1, "mode": "unblind", "metrics": {"baseline": 0.5, "ablation": 0.5, "negative_control": 0.5},
"expected": {"overall_pass": true}}`
	require.NoError(t, os.WriteFile(drifted, []byte(fixture), 0o644))

	r = execute(t, "replay", "--fixture", drifted, "--json")
	assert.Equal(t, errs.ExitStorage, r.code)
	var reports []map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, false, reports[0]["match"])
}

// #endregion replay-tests
