package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/pending"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
)

const (
	replyBusy            = "Still working on your last message. Try again shortly."
	replyCancelled       = "Cancelled. Nothing was saved."
	replyNothingToCancel = "Nothing to cancel."
	replyEdit            = "OK, send the corrected message."
	replyUnrecognized    = "Sorry, I didn't catch that."
	replyExtractFailed   = "I couldn't read that just now. Please send it again."
	replyConfirm         = "%s\nReply yes to save, edit to change, or cancel."
	replyConfirmGeneric  = "Reply yes to save, edit to change, or cancel."
	replyAlreadyLogged   = "Already logged."
	replyRetry           = "That is taking longer than expected and may not have saved. Reply yes to try again."
	replyNotFound        = "Couldn't find that:"
	replyDenied          = "Can't do that:"
	replyFailed          = "Something went wrong saving that. Reply yes to try again, or cancel."
	replyNoSuchJob       = "No job matches %q."
	replyClarify         = "I need a bit more: %s."
	replyExample         = "For example: %s"
	replyPickJob         = "Which job is this for? Reply with a number, a job name or #number."
	replyNoJobs          = "Which job is this for? You have no open jobs yet; reply with a job name or #number, or cancel."
	replyMore            = "Reply more to see other jobs."
)

// isWord reports whether text is one of words, ignoring case and trailing
// punctuation.
func isWord(text string, words ...string) bool {
	t := strings.ToLower(strings.TrimRight(strings.TrimSpace(text), ".!"))
	for _, w := range words {
		if t == w {
			return true
		}
	}
	return false
}

// optionIndex maps a bare "n" to a zero-based picker index. "#n" is a job
// number, not an index.
func optionIndex(text string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func pickerText(p *pending.Picker) string {
	if p == nil || len(p.Options) == 0 {
		return replyNoJobs
	}
	var b strings.Builder
	b.WriteString(replyPickJob)
	for i, o := range p.Options {
		fmt.Fprintf(&b, "\n%d) %s", i+1, o.Label)
	}
	b.WriteString("\n")
	b.WriteString(replyMore)
	return b.String()
}

func problemText(ve *cil.ValidationError) string {
	parts := make([]string, 0, len(ve.Problems))
	for _, p := range ve.Problems {
		if p.Field == "tenant_id" || p.Field == "source_msg_id" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(p.Field, "_", " ")+" "+p.Problem)
	}
	if len(parts) == 0 {
		return ve.Error()
	}
	return strings.Join(parts, "; ")
}

func marshalDraft(d pending.Draft) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	return raw, nil
}

// userError strips the command type and the sentinel suffix from a handler
// error so only the domain reason is shown.
func userError(err error) string {
	var he *cil.HandlerError
	if errors.As(err, &he) {
		err = he.Err
	}
	msg := err.Error()
	for _, s := range []error{storage.ErrConflict, storage.ErrNotFound} {
		msg = strings.TrimSuffix(msg, ": "+s.Error())
	}
	return msg
}
