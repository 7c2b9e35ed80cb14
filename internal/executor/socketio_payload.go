package executor

import (
	"fmt"

	"github.com/specialistvlad/pipegraph/internal/engine"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// encodeDispatch builds the JSON-shaped payload of a dispatch event.
func encodeDispatch(req Request, inputs []engine.Input) map[string]any {
	steps := make([]any, 0, len(req.Steps))
	for _, st := range req.Steps {
		if st.Disabled {
			continue
		}
		env := make(map[string]any, len(st.Env))
		for k, v := range st.Env {
			env[k] = v
		}
		steps = append(steps, map[string]any{
			"name":        st.Name,
			"kind":        string(st.Kind),
			"command":     st.Command,
			"working_dir": st.WorkingDir,
			"env":         env,
			"credentials": st.Credentials,
		})
	}

	ins := make([]any, 0, len(inputs))
	for _, in := range inputs {
		files := make([]any, 0, len(in.Files))
		for _, f := range in.Files {
			files = append(files, map[string]any{"source": f.Source, "target": f.Target})
		}
		ins = append(ins, map[string]any{"stage": in.StageID, "run_id": in.RunID, "files": files})
	}

	artifacts := make([]any, 0, len(req.Artifacts))
	for _, a := range req.Artifacts {
		artifacts = append(artifacts, a)
	}

	return map[string]any{
		"run_id":    req.RunID,
		"stage":     req.StageID,
		"revision":  req.Revision,
		"steps":     steps,
		"artifacts": artifacts,
		"inputs":    ins,
	}
}

// encodeAbort builds the payload of an abort event.
func encodeAbort(runID string, status pipeline.Status) map[string]any {
	return map[string]any{"run_id": runID, "status": status.String()}
}

type finishReport struct {
	runID    string
	status   pipeline.Status
	produced []string
}

func eventObject(args []any) (map[string]any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing payload")
	}
	obj, ok := args[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload is %T, expected an object", args[0])
	}
	return obj, nil
}

func stringField(obj map[string]any, key string) (string, error) {
	v, ok := obj[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing %q", key)
	}
	return v, nil
}

func decodeStarted(args []any) (string, error) {
	obj, err := eventObject(args)
	if err != nil {
		return "", err
	}
	return stringField(obj, "run_id")
}

func decodeFinished(args []any) (finishReport, error) {
	obj, err := eventObject(args)
	if err != nil {
		return finishReport{}, err
	}
	var f finishReport
	if f.runID, err = stringField(obj, "run_id"); err != nil {
		return finishReport{}, err
	}
	raw, err := stringField(obj, "status")
	if err != nil {
		return finishReport{}, err
	}
	if f.status, err = pipeline.ParseStatus(raw); err != nil {
		return finishReport{}, err
	}

	switch produced := obj["produced"].(type) {
	case nil:
	case []any:
		for _, p := range produced {
			s, ok := p.(string)
			if !ok {
				return finishReport{}, fmt.Errorf("produced path is %T, expected a string", p)
			}
			f.produced = append(f.produced, s)
		}
	case []string:
		f.produced = append(f.produced, produced...)
	default:
		return finishReport{}, fmt.Errorf("produced is %T, expected a list", produced)
	}
	return f, nil
}
