package coach

import (
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/llm"
)

// ApproveTool resolves a pending approval block: the block moves to
// approved, the underlying tool runs against the vault and focus store, and
// the outcome lands on the block as result or error state. Terminal blocks
// never move again, and the model is not told about the outcome.
func (c *Coach) ApproveTool(conversationID, blockID string) (Conversation, error) {
	c.mu.Lock()
	conv := c.find(conversationID)
	if conv == nil {
		c.mu.Unlock()
		return Conversation{}, errors.NewNotFound("conversation " + conversationID)
	}
	block := conv.findApproval(blockID)
	if block == nil {
		c.mu.Unlock()
		return Conversation{}, errors.NewNotFound("approval " + blockID)
	}
	if block.Status != ApprovalPending {
		c.mu.Unlock()
		return Conversation{}, errors.NewConflict("approval " + blockID + " already resolved")
	}
	block.Status = ApprovalApproved
	call := block.Call
	c.mu.Unlock()

	// Execution happens outside the lock; the focus store and vault take
	// their own.
	result, execErr := c.runApprovedCall(call)

	c.mu.Lock()
	defer c.mu.Unlock()
	if execErr != nil {
		block.Status = ApprovalError
		block.Error = execErr.Error()
	} else {
		block.Result = result
	}
	c.touch(conv)
	if err := c.persistConversation(conv); err != nil {
		return *conv, err
	}
	return *conv, nil
}

func (c *Coach) runApprovedCall(call llm.ToolCall) (string, error) {
	payload, err := decodeToolCall(call)
	if err != nil {
		return "", errors.NewToolExecution(call.Name, err)
	}
	result, err := c.executeActionTool(payload)
	if err != nil {
		return "", errors.NewToolExecution(call.Name, err)
	}
	return result, nil
}

// RejectTool resolves a pending approval block to rejected. Nothing
// executes; rejected is terminal.
func (c *Coach) RejectTool(conversationID, blockID string) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.find(conversationID)
	if conv == nil {
		return Conversation{}, errors.NewNotFound("conversation " + conversationID)
	}
	block := conv.findApproval(blockID)
	if block == nil {
		return Conversation{}, errors.NewNotFound("approval " + blockID)
	}
	if block.Status != ApprovalPending {
		return Conversation{}, errors.NewConflict("approval " + blockID + " already resolved")
	}
	block.Status = ApprovalRejected
	c.touch(conv)
	if err := c.persistConversation(conv); err != nil {
		return *conv, err
	}
	return *conv, nil
}
