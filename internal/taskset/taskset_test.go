package taskset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EHPCL/RTHeter/internal/graph"
)

const cameraHCL = `
name = "camera-pipeline"

processor "GPU" { count = 2 }
processor "CPU" { count = 2 }
processor "DataCopyHTD" {}

task "camera" {
  period = 20

  segment "pre" {
    type   = "CPU"
    length = 2
  }
  segment "upload" {
    type   = "DataCopyHTD"
    length = 1
  }
  segment "infer" {
    type   = "GPU"
    length = 5
  }

  edge {
    from = "pre"
    to   = "upload"
  }
  edge {
    from = 1
    to   = "infer"
  }
}

task "control" {
  period = 10
  segment "loop" {
    type   = "cpu"
    length = 1
  }
}
`

func TestParse_HCL(t *testing.T) {
	ts, err := Parse("camera.hcl", []byte(cameraHCL))
	require.NoError(t, err)

	require.Equal(t, "camera-pipeline", ts.Name)
	require.Equal(t, []graph.ProcessorGroup{
		{Type: graph.CPU, Count: 2},
		{Type: graph.DataCopyHTD, Count: 1},
		{Type: graph.GPU, Count: 2},
	}, ts.Processors)
	require.Equal(t, 5, ts.ProcessorCount())
	require.Len(t, ts.Tasks, 2)

	camera := ts.Tasks[0]
	require.Equal(t, 0, camera.ID)
	require.Equal(t, "camera", camera.Name)
	require.Equal(t, 20, camera.Period)
	require.Equal(t, []graph.Edge{{From: 0, To: 1}, {From: 1, To: 2}}, camera.Edges)
	require.Equal(t, graph.GPU, camera.Segments[2].Type)
	require.Equal(t, "infer", camera.Segments[2].Name)

	require.Equal(t, 1, ts.Tasks[1].ID)
	require.Equal(t, 10, ts.MinPeriod())
	require.InDelta(t, 8.0/20+1.0/10, ts.Utilization(), 1e-9)
}

const cameraJSON = `{
  "processors": {"CPU": 2, "GPU": 1},
  "tasks": [
    {"name": "camera", "period": 20,
     "segments": [{"type": "CPU", "length": 2}, {"type": 7, "length": 5}],
     "edges": [[0, 1]]},
    {"period": 10,
     "segments": [{"type": "CPU", "length": 1}, {"type": "CPU", "length": 1}],
     "edges": [{"from": 1, "to": 0}]}
  ]
}`

func TestParse_JSON(t *testing.T) {
	ts, err := Parse("sets/camera.json", []byte(cameraJSON))
	require.NoError(t, err)

	require.Equal(t, "camera", ts.Name, "name defaults to the file's base name")
	require.Equal(t, 2, ts.Count(graph.CPU))
	require.Equal(t, 1, ts.Count(graph.GPU))
	require.Equal(t, 0, ts.Count(graph.FPGA))
	require.Len(t, ts.Tasks, 2)
	require.Equal(t, graph.GPU, ts.Tasks[0].Segments[1].Type)
	require.Equal(t, []graph.Edge{{From: 1, To: 0}}, ts.Tasks[1].Edges)
	require.Equal(t, "task1", ts.Tasks[1].Label())
}

func TestParse_JSONProcessorList(t *testing.T) {
	src := `{"processors": [{"type": "CPU", "count": 1}, {"type": "FPGA"}],
	         "tasks": [{"period": 5, "segments": [{"type": "FPGA", "length": 1}]}]}`
	ts, err := Parse("list.json", []byte(src))
	require.NoError(t, err)
	require.Equal(t, 1, ts.Count(graph.FPGA))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		src       string
		wantGraph bool
		wantConf  bool
	}{
		{name: "bad json", file: "x.json", src: `{"processors":`},
		{name: "unknown type", file: "x.json", src: `{"processors": {"TPU": 1}, "tasks": []}`},
		{name: "zero count", file: "x.json", wantConf: true,
			src: `{"processors": {"CPU": 0}, "tasks": [{"period": 5, "segments": [{"type": "CPU", "length": 1}]}]}`},
		{name: "fractional period", file: "x.json",
			src: `{"processors": {"CPU": 1}, "tasks": [{"period": 2.5, "segments": [{"type": "CPU", "length": 1}]}]}`},
		{name: "zero period", file: "x.json", wantConf: true,
			src: `{"processors": {"CPU": 1}, "tasks": [{"period": 0, "segments": [{"type": "CPU", "length": 1}]}]}`},
		{name: "cycle", file: "x.json", wantGraph: true,
			src: `{"processors": {"CPU": 1}, "tasks": [{"period": 5, "segments": [{"type": "CPU", "length": 1}, {"type": "CPU", "length": 1}], "edges": [[0,1],[1,0]]}]}`},
		{name: "missing processor type", file: "x.json", wantConf: true,
			src: `{"processors": {"CPU": 1}, "tasks": [{"period": 5, "segments": [{"type": "GPU", "length": 1}]}]}`},
		{name: "no tasks", file: "x.json", wantConf: true, src: `{"processors": {"CPU": 1}}`},
		{name: "hcl syntax", file: "x.hcl", src: `processor "CPU" {`},
		{name: "hcl unknown segment", file: "x.hcl", wantGraph: true, src: `
processor "CPU" {}
task "t" {
  period = 5
  segment "a" {
    type   = "CPU"
    length = 1
  }
  edge {
    from = "a"
    to   = "b"
  }
}`},
		{name: "hcl duplicate processor", file: "x.hcl", wantConf: true, src: `
processor "CPU" {}
processor "CPU" { count = 2 }
`},
		{name: "variation over 100", file: "x.json", wantConf: true,
			src: `{"processors": {"CPU": {"count": 1, "variation": 150}}, "tasks": [{"period": 5, "segments": [{"type": "CPU", "length": 1}]}]}`},
		{name: "negative parallel factor", file: "x.hcl", wantConf: true, src: `
processor "CPU" { parallel_factor = -5 }
`},
		{name: "self-suspending with edges", file: "x.json", wantGraph: true,
			src: `{"processors": {"CPU": 1}, "tasks": [{"period": 5, "self_suspending": true, "segments": [{"type": "CPU", "length": 1}, {"type": "CPU", "length": 1}], "edges": [[0,1]]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.src))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.file)
			var ge *graph.GraphError
			var ce *graph.ConfigError
			if tt.wantGraph {
				require.True(t, errors.As(err, &ge), "want GraphError, got %v", err)
			}
			if tt.wantConf {
				require.True(t, errors.As(err, &ce), "want ConfigError, got %v", err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(cameraHCL), 0644))

	ts, err := Load(path)
	require.NoError(t, err)
	require.Len(t, ts.Tasks, 2)

	_, err = Load(filepath.Join(dir, "missing.hcl"))
	require.Error(t, err)
}

func TestNew_Validates(t *testing.T) {
	task, err := graph.New(0, "", 10, []graph.Segment{{Type: graph.GPU, Length: 1}}, nil)
	require.NoError(t, err)

	_, err = New("x", []graph.ProcessorGroup{{Type: graph.CPU, Count: 1}}, []*graph.Task{task})
	var ce *graph.ConfigError
	require.True(t, errors.As(err, &ce))

	ts, err := New("x", []graph.ProcessorGroup{{Type: graph.GPU, Count: 1}}, []*graph.Task{task})
	require.NoError(t, err)
	require.Equal(t, 1, ts.ProcessorCount())
}

const selfSuspendingHCL = `
processor "CPU" {
  count           = 2
  parallel_factor = 20
}
processor "GPU" { variation = 10 }

task "ss" {
  period          = 30
  self_suspending = true

  segment "read" {
    type   = "CPU"
    length = 2
  }
  segment "infer" {
    type   = "GPU"
    length = 4
  }
  segment "write" {
    type   = "CPU"
    length = 1
  }
}
`

func TestParse_HCLSelfSuspendingAndSpeed(t *testing.T) {
	ts, err := Parse("ss.hcl", []byte(selfSuspendingHCL))
	require.NoError(t, err)

	require.Equal(t, []graph.ProcessorGroup{
		{Type: graph.CPU, Count: 2, ParallelFactor: 20},
		{Type: graph.GPU, Count: 1, Variation: 10},
	}, ts.Processors)

	task := ts.Tasks[0]
	require.True(t, task.SelfSuspending)
	require.Equal(t, []graph.Edge{{From: 0, To: 1}, {From: 1, To: 2}}, task.Edges)
}

func TestParse_JSONSelfSuspendingAndSpeed(t *testing.T) {
	src := `{"processors": {"CPU": {"count": 2, "parallel_factor": 25}, "GPU": {"variation": 5}},
	         "tasks": [{"period": 30, "self_suspending": true,
	                    "segments": [{"type": "CPU", "length": 2}, {"type": "GPU", "length": 4}]}]}`
	ts, err := Parse("ss.json", []byte(src))
	require.NoError(t, err)

	require.Equal(t, []graph.ProcessorGroup{
		{Type: graph.CPU, Count: 2, ParallelFactor: 25},
		{Type: graph.GPU, Count: 1, Variation: 5},
	}, ts.Processors)
	require.True(t, ts.Tasks[0].SelfSuspending)
	require.Equal(t, []graph.Edge{{From: 0, To: 1}}, ts.Tasks[0].Edges)
}
