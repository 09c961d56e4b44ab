package shared

// Roles recognised by approval routing.
const (
	RoleComprador = "comprador"
	RoleGerente   = "gerente"
	RoleAdmin     = "admin"
)

// Procurement permissions declared for RBAC.
const (
	PermThresholdView   = "procurement.threshold.view"
	PermThresholdManage = "procurement.threshold.manage"

	PermOrderSubmit   = "procurement.order.submit"
	PermOrderApprove  = "procurement.order.approve"
	PermOrderEscalate = "procurement.order.escalate"
	PermOrderCancel   = "procurement.order.cancel"
	PermOrderAdvance  = "procurement.order.advance"
	PermOrderView     = "procurement.order.view"

	PermConditionalView   = "procurement.conditional.view"
	PermConditionalExtend = "procurement.conditional.extend"
)

// ProcurementScopes lists all permissions related to the procurement module.
func ProcurementScopes() []string {
	return []string{
		PermThresholdView,
		PermThresholdManage,
		PermOrderSubmit,
		PermOrderApprove,
		PermOrderEscalate,
		PermOrderCancel,
		PermOrderAdvance,
		PermOrderView,
		PermConditionalView,
		PermConditionalExtend,
	}
}
