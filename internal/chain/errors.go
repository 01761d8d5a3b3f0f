package chain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

const revertPrefix = "execution reverted"

// classify maps a provider error onto the domain error hierarchy.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	if reason, ok := c.revertReason(err); ok {
		return &domain.ExecutionRevertedError{Reason: reason, Err: err}
	}
	code := 0
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		code = rpcErr.ErrorCode()
	}
	return &domain.SubmissionError{ProviderCode: code, Message: err.Error(), Err: err}
}

// revertReason extracts a revert reason from err. ok is true when err is
// a revert, even if the reason itself is empty.
func (c *Client) revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, isStr := dataErr.ErrorData().(string); isStr {
			if data, decErr := hexutil.Decode(s); decErr == nil && len(data) >= 4 {
				return c.decodeRevertData(data), true
			}
		}
	}
	msg := err.Error()
	idx := strings.Index(strings.ToLower(msg), revertPrefix)
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimSpace(msg[idx+len(revertPrefix):])
	reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
	return reason, true
}

func (c *Client) decodeRevertData(data []byte) string {
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	for _, contract := range c.errorABIs {
		for name, e := range contract.Errors {
			if !bytes.Equal(e.ID[:4], data[:4]) {
				continue
			}
			args, err := e.Unpack(data)
			if err != nil {
				return name
			}
			return fmt.Sprintf("%s%v", name, args)
		}
	}
	return fmt.Sprintf("custom error %s", hexutil.Encode(data[:4]))
}
