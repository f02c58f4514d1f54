package acl

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
)

type fakeDocs struct {
	docs map[uuid.UUID]*storage.Document
}

func (f *fakeDocs) GetByID(_ context.Context, id uuid.UUID) (*storage.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

type fakePerms struct {
	direct map[uuid.UUID]storage.PermissionKind // by document
	vault  map[uuid.UUID]storage.PermissionKind // by vault
}

func (f *fakePerms) DocumentPermission(_ context.Context, documentID, _ uuid.UUID) (storage.PermissionKind, error) {
	return f.direct[documentID], nil
}

func (f *fakePerms) VaultPermission(_ context.Context, vaultID, _ uuid.UUID) (storage.PermissionKind, error) {
	return f.vault[vaultID], nil
}

func TestOwnerHoldsImplicitAdmin(t *testing.T) {
	owner := uuid.New()
	docID := uuid.New()
	oracle := NewOracle(
		&fakeDocs{docs: map[uuid.UUID]*storage.Document{docID: {ID: docID, OwnerID: owner}}},
		&fakePerms{},
	)

	ok, err := oracle.CanAdmin(context.Background(), owner, docID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("owner denied admin")
	}
}

func TestStrangerIsDenied(t *testing.T) {
	docID := uuid.New()
	oracle := NewOracle(
		&fakeDocs{docs: map[uuid.UUID]*storage.Document{docID: {ID: docID, OwnerID: uuid.New()}}},
		&fakePerms{},
	)

	ok, err := oracle.CanRead(context.Background(), uuid.New(), docID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("stranger granted read")
	}
}

func TestEffectiveLevelIsMaxOfDirectAndVault(t *testing.T) {
	docID := uuid.New()
	vaultID := uuid.New()
	user := uuid.New()

	oracle := NewOracle(
		&fakeDocs{docs: map[uuid.UUID]*storage.Document{
			docID: {ID: docID, OwnerID: uuid.New(), VaultID: &vaultID},
		}},
		&fakePerms{
			direct: map[uuid.UUID]storage.PermissionKind{docID: storage.PermissionRead},
			vault:  map[uuid.UUID]storage.PermissionKind{vaultID: storage.PermissionWrite},
		},
	)

	canWrite, err := oracle.CanWrite(context.Background(), user, docID)
	if err != nil {
		t.Fatal(err)
	}
	if !canWrite {
		t.Fatal("vault write grant not inherited")
	}
	canAdmin, err := oracle.CanAdmin(context.Background(), user, docID)
	if err != nil {
		t.Fatal(err)
	}
	if canAdmin {
		t.Fatal("admin granted beyond both levels")
	}
}

func TestDirectGrantBeatsWeakerVaultGrant(t *testing.T) {
	docID := uuid.New()
	vaultID := uuid.New()

	oracle := NewOracle(
		&fakeDocs{docs: map[uuid.UUID]*storage.Document{
			docID: {ID: docID, OwnerID: uuid.New(), VaultID: &vaultID},
		}},
		&fakePerms{
			direct: map[uuid.UUID]storage.PermissionKind{docID: storage.PermissionAdmin},
			vault:  map[uuid.UUID]storage.PermissionKind{vaultID: storage.PermissionRead},
		},
	)

	ok, err := oracle.CanAdmin(context.Background(), uuid.New(), docID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("direct admin grant not honored")
	}
}

func TestMissingDocumentIsNotFound(t *testing.T) {
	oracle := NewOracle(&fakeDocs{docs: map[uuid.UUID]*storage.Document{}}, &fakePerms{})

	_, err := oracle.CanRead(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSoftDeletedDocumentIsNotFound(t *testing.T) {
	owner := uuid.New()
	docID := uuid.New()
	oracle := NewOracle(
		&fakeDocs{docs: map[uuid.UUID]*storage.Document{
			docID: {ID: docID, OwnerID: owner, IsDeleted: true},
		}},
		&fakePerms{},
	)

	// Even the owner cannot see a soft-deleted document.
	_, err := oracle.CanRead(context.Background(), owner, docID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
