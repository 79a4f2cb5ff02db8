// Package matches holds the match-history records that flow through the
// database router, plus the validation that guards them.
package matches

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultKDA = "0/0/0"
	DefaultWin = false
)

var kdaPattern = regexp.MustCompile(`^\d+/\d+/\d+$`)

// Record is one persisted row of the matches table.
type Record struct {
	ID           int64     `db:"id" json:"id"`
	SummonerName string    `db:"summoner_name" json:"summoner_name"`
	Champion     string    `db:"champion" json:"champion"`
	KDA          string    `db:"kda" json:"kda"`
	Win          bool      `db:"win" json:"win"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Input is a match as submitted by a client, before validation.
// Fields stay untyped so wrong JSON types are reported per field.
type Input struct {
	SummonerName any `json:"summoner_name"`
	Champion     any `json:"champion"`
	KDA          any `json:"kda"`
	Win          any `json:"win"`
}

// explicitNull marks a field the client sent as JSON null, which is not the
// same as leaving it out.
type explicitNull struct{}

// UnmarshalJSON keeps "win": null distinct from an absent win.
func (in *Input) UnmarshalJSON(b []byte) error {
	type plain Input
	var raw struct {
		plain
		Win json.RawMessage `json:"win"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*in = Input(raw.plain)
	switch {
	case raw.Win == nil:
		in.Win = nil
	case bytes.Equal(bytes.TrimSpace(raw.Win), []byte("null")):
		in.Win = explicitNull{}
	default:
		return json.Unmarshal(raw.Win, &in.Win)
	}
	return nil
}

// NewMatch is a validated match with defaults applied, ready to insert.
type NewMatch struct {
	SummonerName string
	Champion     string
	KDA          string
	Win          bool
}

// ValidationError lists every rule a submitted match broke.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks in and fills in the KDA and win defaults.
// An empty KDA string is treated as absent.
func Validate(in Input) (NewMatch, error) {
	var (
		out     = NewMatch{KDA: DefaultKDA, Win: DefaultWin}
		details []string
	)

	if s, ok := in.SummonerName.(string); ok && s != "" {
		out.SummonerName = s
	} else {
		details = append(details, "Invalid summoner_name")
	}

	if s, ok := in.Champion.(string); ok && s != "" {
		out.Champion = s
	} else {
		details = append(details, "Invalid champion")
	}

	switch k := in.KDA.(type) {
	case nil:
	case string:
		if k != "" {
			if !kdaPattern.MatchString(k) {
				details = append(details, "Invalid KDA format (e.g. 10/2/5)")
			} else {
				out.KDA = k
			}
		}
	default:
		details = append(details, "Invalid KDA format (e.g. 10/2/5)")
	}

	switch w := in.Win.(type) {
	case nil:
	case bool:
		out.Win = w
	default:
		details = append(details, "Invalid win status")
	}

	if len(details) > 0 {
		return NewMatch{}, &ValidationError{Details: details}
	}
	return out, nil
}
