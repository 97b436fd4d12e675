package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishInput_Validate(t *testing.T) {
	maxAttempts := func(n int) *int { return &n }

	tests := []struct {
		name      string
		input     PublishInput
		wantField string
	}{
		{
			name:  "valid minimal input",
			input: PublishInput{Type: "email", Payload: Payload{}},
		},
		{
			name:      "missing type",
			input:     PublishInput{Payload: Payload{}},
			wantField: "type",
		},
		{
			name:      "missing payload",
			input:     PublishInput{Type: "email"},
			wantField: "payload",
		},
		{
			name:      "non-positive max attempts",
			input:     PublishInput{Type: "email", Payload: Payload{}, MaxAttempts: maxAttempts(0)},
			wantField: "max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestCompleteInput_Validate(t *testing.T) {
	valid := CompleteInput{JobID: uuid.New()}
	require.NoError(t, valid.Validate())

	invalid := CompleteInput{}
	var ve *ValidationError
	require.ErrorAs(t, invalid.Validate(), &ve)
	assert.Equal(t, "job_id", ve.Field)
}

func TestFailInput_Validate(t *testing.T) {
	valid := FailInput{JobID: uuid.New(), Error: "boom"}
	require.NoError(t, valid.Validate())

	missingError := FailInput{JobID: uuid.New()}
	var ve *ValidationError
	require.ErrorAs(t, missingError.Validate(), &ve)
	assert.Equal(t, "error", ve.Field)

	missingID := FailInput{Error: "boom"}
	require.ErrorAs(t, missingID.Validate(), &ve)
	assert.Equal(t, "job_id", ve.Field)
}
