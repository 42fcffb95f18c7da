package ledger

import (
	"fmt"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
)

// Owner is either a user (technician, dealer) or the platform itself.
// The zero value is invalid; use UserOwner or SystemOwner.
type Owner struct {
	kind string
	id   string
}

var SystemOwner = Owner{kind: common.OwnerKindSystem}

func UserOwner(id string) Owner {
	return Owner{kind: common.OwnerKindUser, id: id}
}

// OwnerOf rebuilds the owner of a stored account.
func OwnerOf(account *models.LedgerAccount) Owner {
	if account.OwnerKind == common.OwnerKindSystem {
		return SystemOwner
	}
	return UserOwner(account.OwnerID)
}

func (o Owner) IsSystem() bool { return o.kind == common.OwnerKindSystem }

func (o Owner) Kind() string { return o.kind }

// ID is empty for the system owner.
func (o Owner) ID() string { return o.id }

func (o Owner) String() string {
	if o.IsSystem() {
		return "system"
	}
	return fmt.Sprintf("user:%s", o.id)
}

func (o Owner) validate() error {
	switch o.kind {
	case common.OwnerKindSystem:
		return nil
	case common.OwnerKindUser:
		if o.id == "" {
			return common.NewValidationError("owner", "user owner requires an id")
		}
		return nil
	default:
		return common.NewValidationError("owner", "owner is not set")
	}
}
