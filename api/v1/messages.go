package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// SubmitRequest asks the server to load the batch file at Path, which must be
// readable by the server.
type SubmitRequest struct {
	Path        string
	ReplaceMode string
	NoRun       bool
}

func (r *SubmitRequest) ToProto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"path":         r.Path,
		"replace_mode": r.ReplaceMode,
		"no_run":       r.NoRun,
	})
}

func SubmitRequestFromProto(s *structpb.Struct) (*SubmitRequest, error) {
	fields := s.GetFields()

	r := &SubmitRequest{
		Path:        fields["path"].GetStringValue(),
		ReplaceMode: fields["replace_mode"].GetStringValue(),
		NoRun:       fields["no_run"].GetBoolValue(),
	}

	if r.Path == "" {
		return nil, errors.New("path is empty")
	}

	return r, nil
}

// WorkerStatus is one row of the server's status listing.
type WorkerStatus struct {
	Index        int       `json:"index"`
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	Iteration    int64     `json:"iteration"`
	MaxIteration int64     `json:"max_iteration"`
	Watch        []string  `json:"watch"`
	Watched      []float64 `json:"watched"`
	Pid          int       `json:"pid"`
	ExitCode     int       `json:"exit_code"`
	Interrupted  bool      `json:"interrupted"`
	Error        string    `json:"error,omitempty"`
}

// maxExactInt is the largest integer a structpb number holds exactly.
const maxExactInt = 1 << 53

func StatusToProto(statuses []WorkerStatus) (*structpb.ListValue, error) {
	if statuses == nil {
		statuses = []WorkerStatus{}
	}

	for _, st := range statuses {
		for name, v := range map[string]int64{
			"iteration":     st.Iteration,
			"max_iteration": st.MaxIteration,
		} {
			if v > maxExactInt || v < -maxExactInt {
				return nil, fmt.Errorf(
					"%s of job %d out of range: %d",
					name,
					st.Index,
					v,
				)
			}
		}
	}

	data, err := json.Marshal(statuses)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}

	l := &structpb.ListValue{}
	if err := protojson.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("convert status: %w", err)
	}

	return l, nil
}

func StatusFromProto(l *structpb.ListValue) ([]WorkerStatus, error) {
	data, err := protojson.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("convert status: %w", err)
	}

	var statuses []WorkerStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}

	return statuses, nil
}

func IDsToProto(ids []string) *structpb.ListValue {
	values := make([]*structpb.Value, len(ids))
	for i, id := range ids {
		values[i] = structpb.NewStringValue(id)
	}

	return &structpb.ListValue{Values: values}
}

func IDsFromProto(l *structpb.ListValue) []string {
	ids := make([]string, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		ids = append(ids, v.GetStringValue())
	}

	return ids
}
