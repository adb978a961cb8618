package storage

import (
	"context"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// errNotFound marks a missing entity; Store turns it into a domain error.
var errNotFound = errors.New("entity not found")

// table is the subset of an Azure table the store needs.
type table interface {
	add(ctx context.Context, payload []byte) error
	merge(ctx context.Context, payload []byte) error
	remove(ctx context.Context, pk, rk string) error
	list(ctx context.Context, pk string) ([][]byte, error)
}

type azTable struct {
	client *aztables.Client
}

func notFound(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	return err
}

func (t azTable) add(ctx context.Context, payload []byte) error {
	_, err := t.client.AddEntity(ctx, payload, nil)
	return err
}

func (t azTable) merge(ctx context.Context, payload []byte) error {
	et := azcore.ETagAny
	_, err := t.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return notFound(err)
}

func (t azTable) remove(ctx context.Context, pk, rk string) error {
	_, err := t.client.DeleteEntity(ctx, pk, rk, nil)
	return notFound(err)
}

func (t azTable) list(ctx context.Context, pk string) ([][]byte, error) {
	filter := "PartitionKey eq '" + escape(pk) + "'"
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

// escape doubles single quotes for OData string literals.
func escape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(out)
}
