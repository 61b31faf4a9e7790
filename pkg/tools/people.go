package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/calbot/calbot/pkg/ports"
)

// ContactsLookupTool resolves a person's name to an email address across the
// linked accounts' address books.
type ContactsLookupTool struct {
	Contacts ports.ContactsPort
}

func (t *ContactsLookupTool) Name() ToolName { return ToolContactsLookup }

func (t *ContactsLookupTool) Description() string {
	return "Look up a person's email address by name in the user's contacts."
}

func (t *ContactsLookupTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "description": "Person's name as the user said it"},
		},
		"required": []string{"name"},
	}
}

func (t *ContactsLookupTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	name := argString(args, "name")
	if name == "" {
		return ErrorResult("name is empty")
	}

	for _, account := range execCtx.Accounts {
		email, err := t.Contacts.FindEmailByName(ctx, account, name)
		if err != nil {
			terr := &ports.TransportError{Port: "contacts", Op: "find by name", Err: err}
			return ErrorResult(terr.Error()).WithError(terr)
		}
		if email != "" {
			return &ToolResult{ForLLM: mustJSON(map[string]interface{}{
				"found":   true,
				"name":    name,
				"email":   email,
				"account": account.ID,
			})}
		}
	}

	return &ToolResult{ForLLM: mustJSON(map[string]interface{}{
		"found":       false,
		"name":        name,
		"instruction": "no contact matched; ask the user for the email address instead of guessing one",
	})}
}

// EmailSendTool sends mail from the primary account. A bare name in "to" is
// resolved through contacts before sending.
type EmailSendTool struct {
	Mail     ports.MailPort
	Contacts ports.ContactsPort
}

func (t *EmailSendTool) Name() ToolName { return ToolEmailSend }

func (t *EmailSendTool) Description() string {
	return "Send an email from the user's primary account. The recipient can be an email address or a contact name."
}

func (t *EmailSendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to":      map[string]interface{}{"type": "string", "description": "Recipient email address or contact name"},
			"subject": map[string]interface{}{"type": "string", "description": "Email subject"},
			"body":    map[string]interface{}{"type": "string", "description": "Email body, plain text"},
		},
		"required": []string{"to", "subject", "body"},
	}
}

func (t *EmailSendTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	to := argString(args, "to")
	subject := argString(args, "subject")
	body := argString(args, "body")
	if to == "" {
		return ErrorResult("recipient is empty")
	}

	primary, ok := execCtx.Primary()
	if !ok {
		return ErrorResult("no accounts are linked")
	}

	if !strings.Contains(to, "@") {
		execCtx.progress(fmt.Sprintf("Looking up %s in your contacts...", to))
		resolved := ""
		for _, account := range execCtx.Accounts {
			email, err := t.Contacts.FindEmailByName(ctx, account, to)
			if err != nil {
				terr := &ports.TransportError{Port: "contacts", Op: "find by name", Err: err}
				return ErrorResult(terr.Error()).WithError(terr)
			}
			if email != "" {
				resolved = email
				break
			}
		}
		if resolved == "" {
			return ErrorResult(fmt.Sprintf("no contact named %q was found; ask the user for the email address", to))
		}
		to = resolved
	}

	execCtx.progress("Sending the email...")
	if err := t.Mail.Send(ctx, primary, to, subject, body); err != nil {
		terr := &ports.TransportError{Port: "mail", Op: "send", Err: err}
		return ErrorResult(terr.Error()).WithError(terr)
	}

	return &ToolResult{
		ForLLM:  mustJSON(map[string]interface{}{"sent": true, "to": to, "subject": subject}),
		Success: true,
	}
}
