package export

import (
	"testing"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/stretchr/testify/assert"
)

func TestIdentityMappingApply(t *testing.T) {
	uid, gid := uint32(1500), uint32(1600)
	user := &fsal.AuthContext{UID: 1000, GID: 1000, GIDs: []uint32{10, 20}}
	root := &fsal.AuthContext{UID: 0, GID: 0, GIDs: []uint32{0}}
	rootWithGroup := &fsal.AuthContext{UID: 0, GID: 50, GIDs: []uint32{51}}

	tests := []struct {
		name    string
		mapping IdentityMapping
		in      *fsal.AuthContext
		uid     uint32
		gid     uint32
		gids    []uint32
	}{
		{"NoSquashUser", IdentityMapping{}, user, 1000, 1000, []uint32{10, 20}},
		{"NoSquashRoot", IdentityMapping{}, root, 0, 0, []uint32{0}},
		{"NilCaller", IdentityMapping{}, nil, DefaultAnonUID, DefaultAnonGID, nil},
		{"RootSquashUser", IdentityMapping{RootSquash: true}, user, 1000, 1000, []uint32{10, 20}},
		{"RootSquashRoot", IdentityMapping{RootSquash: true}, root, DefaultAnonUID, DefaultAnonGID, nil},
		{"RootSquashKeepsGroup", IdentityMapping{RootSquash: true}, rootWithGroup, DefaultAnonUID, 50, []uint32{51}},
		{"AllSquash", IdentityMapping{AllSquash: true}, user, DefaultAnonUID, DefaultAnonGID, nil},
		{"CustomAnon", IdentityMapping{AllSquash: true, AnonUID: &uid, AnonGID: &gid}, user, 1500, 1600, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.mapping.Apply(tt.in)
			assert.Equal(t, tt.uid, out.UID)
			assert.Equal(t, tt.gid, out.GID)
			assert.Equal(t, tt.gids, out.GIDs)
		})
	}

	t.Run("DoesNotModifyCaller", func(t *testing.T) {
		m := IdentityMapping{AllSquash: true}
		_ = m.Apply(user)
		assert.Equal(t, uint32(1000), user.UID)
	})
}
