package models

import "github.com/angelmondragon/vcledger/pkg/enums"

// CredentialOffer holds the identifiers returned by the external issuer. The
// proof itself is never stored.
type CredentialOffer struct {
	OfferID  *string                `gorm:"column:credential_offer_id"`
	OfferURL *string                `gorm:"column:credential_offer_url"`
	Status   enums.CredentialStatus `gorm:"column:credential_status;type:text;not null;default:'pending'"`
}
