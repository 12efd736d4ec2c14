package enum

// ── State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending    = "PENDING"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

const (
	SettlementStatusPending  = "PENDING"
	SettlementStatusVerified = "VERIFIED"
	SettlementStatusSettled  = "SETTLED"
	SettlementStatusDisputed = "DISPUTED"
)

// ── Roles ──

const (
	UserRoleAdmin          = "ADMIN"
	UserRoleCompanyManager = "COMPANY_MANAGER"
	UserRolePharmacist     = "PHARMACIST"
)

// ── Labels ──

const (
	PaymentMethodCash   = "CASH"
	PaymentMethodOnline = "ONLINE"
)

const (
	PromotionTypePercentage = "PERCENTAGE"
	PromotionTypeFixed      = "FIXED"
)

// Baghdad delivery zones. Companies, users and promotions are scoped
// to one or more of these.
const (
	ZoneKarkh    = "KARKH"
	ZoneRusafa   = "RUSAFA"
	ZoneAdhamiya = "ADHAMIYA"
	ZoneMansour  = "MANSOUR"
	ZoneSadrCity = "SADR_CITY"
	ZoneDora     = "DORA"
)

// Zones lists every known delivery zone.
var Zones = []string{ZoneKarkh, ZoneRusafa, ZoneAdhamiya, ZoneMansour, ZoneSadrCity, ZoneDora}

// IsValidZone reports whether z is a known delivery zone.
func IsValidZone(z string) bool {
	for _, zone := range Zones {
		if z == zone {
			return true
		}
	}
	return false
}
