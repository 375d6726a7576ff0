package vault

import (
	"errors"
	"fmt"
	"strings"
)

// Ledger rejections. Both the in-memory ledger and the contract binding
// report these so callers can match with errors.Is.
var (
	ErrNotAgentAuthority      = errors.New("not authorized agent")
	ErrNotOwner               = errors.New("caller is not the owner")
	ErrZeroAuthority          = errors.New("invalid authority address")
	ErrLengthMismatch         = errors.New("pools and ratios length mismatch")
	ErrInvalidTotalAllocation = errors.New("invalid total allocation")
	ErrUnknownProposal        = errors.New("invalid proposal id")
	ErrAlreadyExecuted        = errors.New("proposal already executed")
)

var revertReasons = []struct {
	match string
	err   error
}{
	{"Not authorized agent", ErrNotAgentAuthority},
	{"OwnableUnauthorizedAccount", ErrNotOwner},
	{"Ownable: caller is not the owner", ErrNotOwner},
	{"Invalid authority address", ErrZeroAuthority},
	{"Invalid total allocation", ErrInvalidTotalAllocation},
	{"Invalid proposal ID", ErrUnknownProposal},
	{"Proposal already executed", ErrAlreadyExecuted},
}

// classifyRevert attaches the matching ledger sentinel to a transport error.
// Errors with no recognised revert reason are returned unchanged.
func classifyRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, r := range revertReasons {
		if strings.Contains(msg, r.match) {
			return fmt.Errorf("%w: %w", r.err, err)
		}
	}
	return err
}
