package transfer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidBulkSize is returned when the bulk size is below one.
	ErrInvalidBulkSize = errors.New("bulk size must be at least 1")
	// ErrUnknownPolicy is returned for a grouping policy other than single or bulk.
	ErrUnknownPolicy = errors.New("unknown grouping policy")
)

// Policy controls how many transfers go into one submission.
type Policy string

const (
	PolicySingle Policy = "single"
	PolicyBulk   Policy = "bulk"
)

const (
	DefaultPolicy   = PolicySingle
	DefaultBulkSize = 200
)

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySingle, PolicyBulk:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Group splits paths into consecutive submission jobs of at most bulkSize
// transfers. Under PolicySingle every job holds exactly one transfer. Only the
// first hop of each path is kept since multihop is not supported.
func Group(paths []Path, policy Policy, bulkSize int) ([]SubmissionJob, error) {
	if bulkSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBulkSize, bulkSize)
	}
	switch policy {
	case PolicySingle:
		bulkSize = 1
	case PolicyBulk:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	jobs := make([]SubmissionJob, 0, (len(paths)+bulkSize-1)/bulkSize)
	for start := 0; start < len(paths); start += bulkSize {
		end := min(start+bulkSize, len(paths))

		transfers := make([]Hop, 0, end-start)
		for i, path := range paths[start:end] {
			hop, err := path.First()
			if err != nil {
				return nil, fmt.Errorf("path %d: %w", start+i, err)
			}
			transfers = append(transfers, hop)
		}

		jobs = append(jobs, SubmissionJob{
			Transfers: transfers,
			JobParams: map[string]string{},
		})
	}
	return jobs, nil
}
