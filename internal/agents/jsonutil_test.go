package agents

import "testing"

func TestDecodeResponse(t *testing.T) {
	type payload struct {
		Domain     string  `json:"domain"`
		Confidence float64 `json:"confidence"`
	}

	tests := []struct {
		name    string
		text    string
		want    payload
		wantErr bool
	}{
		{
			"plain json",
			`{"domain": "Water Supply", "confidence": 0.8}`,
			payload{"Water Supply", 0.8},
			false,
		},
		{
			"fenced json",
			"```json\n{\"domain\": \"Water Supply\", \"confidence\": 0.8}\n```",
			payload{"Water Supply", 0.8},
			false,
		},
		{
			"prose around the object",
			`Here is my classification: {"domain": "Water Supply", "confidence": 0.8} hope that helps`,
			payload{"Water Supply", 0.8},
			false,
		},
		{
			"trailing comma",
			`{"domain": "Water Supply", "confidence": 0.8,}`,
			payload{"Water Supply", 0.8},
			false,
		},
		{
			"braces inside strings",
			`{"domain": "Water Supply {main}", "confidence": 0.8}`,
			payload{"Water Supply {main}", 0.8},
			false,
		},
		{
			"no object at all",
			"I cannot classify this complaint.",
			payload{},
			true,
		},
		{
			"unbalanced object",
			`{"domain": "Water Supply"`,
			payload{},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got payload
			err := decodeResponse(tt.text, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("decoded %+v, want %+v", got, tt.want)
			}
		})
	}
}
