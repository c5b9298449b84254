package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/pkg/db/models"
)

// GenesisHash is the prevHash of the first event in every tenant chain.
var GenesisHash = strings.Repeat("0", 64)

// SystemActorID attributes events written by background jobs.
var SystemActorID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("vcledger:system"))

// CanonicalString renders every hashed field of an event in a fixed order.
// The hash itself is excluded.
func CanonicalString(ev *models.InventoryEvent) string {
	return fmt.Sprintf("INV_EVENT|v1|%s|%d|%q|%s|%s|%s|%d|%s|%s|%q|%s|%s|%s",
		ev.TenantID.String(),
		ev.Sequence,
		ev.CatalogItemID,
		optionalUUID(ev.LotID),
		ev.LocationID.String(),
		ev.Type,
		ev.Quantity,
		optionalUUID(ev.CartID),
		optionalUUID(ev.ReceiptID),
		optionalString(ev.Reason),
		ev.ActorID.String(),
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		ev.ID.String(),
	)
}

// ComputeHash returns sha256(canonical ‖ prevHash) as lowercase hex.
func ComputeHash(ev *models.InventoryEvent, prevHash string) string {
	sum := sha256.Sum256([]byte(CanonicalString(ev) + "|" + prevHash))
	return hex.EncodeToString(sum[:])
}

func optionalUUID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func optionalString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
