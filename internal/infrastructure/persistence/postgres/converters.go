package postgres

import "encoding/json"

// encodeArg marshals a job argument or result payload to the jsonb
// representation stored in job_args/job_kwargs/job_results. A nil value
// round-trips to SQL NULL's jsonb sibling, the JSON literal "null".
func encodeArg(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decodeArg reverses encodeArg into a generic any, the same loosely-typed
// shape a handler receives its arguments as.
func decodeArg(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
