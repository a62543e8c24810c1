package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

const problem = `
model:
  name: rail
  frames:
    - name: slider
      type: transX
timing:
  phases: 1
  steps_per_phase: 4
  duration_per_phase: 2
  k_order: 1
objectives:
  - feature: transition
    order: 1
  - feature: qItself
    type: eq
    times: [1]
    target: [1]
`

func writeProblem(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rail.yaml")
	test.That(t, os.WriteFile(path, []byte(problem), 0o600), test.ShouldBeNil)
	return path
}

func TestSchemaCommand(t *testing.T) {
	var out bytes.Buffer
	test.That(t, newApp(&out).Run([]string{"komo-plan", "schema"}), test.ShouldBeNil)
	var schema map[string]interface{}
	test.That(t, json.Unmarshal(out.Bytes(), &schema), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "k_order")
}

func TestRunCommand(t *testing.T) {
	problemFile := writeProblem(t)
	pathFileName := filepath.Join(t.TempDir(), "path.json")

	var out bytes.Buffer
	err := newApp(&out).Run([]string{"komo-plan", "run", "--out", pathFileName, "--check-gradients", problemFile})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "SQRCOSTS")
	test.That(t, out.String(), test.ShouldContainSubstring, "TOTAL")
	test.That(t, out.String(), test.ShouldContainSubstring, "gradient check")

	data, err := os.ReadFile(pathFileName)
	test.That(t, err, test.ShouldBeNil)
	var written pathFile
	test.That(t, json.Unmarshal(data, &written), test.ShouldBeNil)
	test.That(t, written.Path, test.ShouldHaveLength, 4)
	test.That(t, written.Times, test.ShouldHaveLength, 4)
	test.That(t, written.Path[3][0], test.ShouldAlmostEqual, 1, 1e-2)
	test.That(t, written.Times[3], test.ShouldAlmostEqual, 2)
}

func TestReportCommand(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run([]string{"komo-plan", "report", writeProblem(t)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "KOMO problem")
	test.That(t, out.String(), test.ShouldContainSubstring, `"feature": "qItself"`)
}

func TestCommandErrors(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run([]string{"komo-plan", "run"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exactly one problem file")

	err = newApp(&out).Run([]string{"komo-plan", "report", filepath.Join(t.TempDir(), "missing.yaml")})
	test.That(t, err, test.ShouldNotBeNil)
}
