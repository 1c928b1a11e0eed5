package rbac

import "fmt"

// Action is a named capability checked by the permission matrix.
type Action uint8

const (
	actionInvalid Action = iota
	ActionViewDashboard
	ActionViewAllChantiers
	ActionViewChantier
	ActionCreateChantier
	ActionUpdateChantier
	ActionDeleteChantier
	ActionViewStock
	ActionManageStock
	ActionViewAllInvoices
	ActionViewInvoice
	ActionCreateInvoice
	ActionUpdateInvoice
	ActionDeleteInvoice
	ActionViewAttachment
	ActionUploadAttachment
	ActionDeleteAttachment
	ActionManageUsers
	ActionViewAuditLog

	numActions
)

var actionNames = [numActions]string{
	ActionViewDashboard:    "view_dashboard",
	ActionViewAllChantiers: "view_all_chantiers",
	ActionViewChantier:     "view_chantier",
	ActionCreateChantier:   "create_chantier",
	ActionUpdateChantier:   "update_chantier",
	ActionDeleteChantier:   "delete_chantier",
	ActionViewStock:        "view_stock",
	ActionManageStock:      "manage_stock",
	ActionViewAllInvoices:  "view_all_invoices",
	ActionViewInvoice:      "view_invoice",
	ActionCreateInvoice:    "create_invoice",
	ActionUpdateInvoice:    "update_invoice",
	ActionDeleteInvoice:    "delete_invoice",
	ActionViewAttachment:   "view_attachment",
	ActionUploadAttachment: "upload_attachment",
	ActionDeleteAttachment: "delete_attachment",
	ActionManageUsers:      "manage_users",
	ActionViewAuditLog:     "view_audit_log",
}

func (a Action) String() string {
	if a.Valid() {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

func (a Action) Valid() bool { return a > actionInvalid && a < numActions }

func ParseAction(s string) (Action, error) {
	for a := ActionViewDashboard; a < numActions; a++ {
		if actionNames[a] == s {
			return a, nil
		}
	}
	return actionInvalid, fmt.Errorf("rbac: unknown action %q", s)
}

// Actions lists every valid action.
func Actions() []Action {
	out := make([]Action, 0, numActions-1)
	for a := ActionViewDashboard; a < numActions; a++ {
		out = append(out, a)
	}
	return out
}
