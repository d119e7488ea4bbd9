package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut  *ssm.GetParameterOutput
	getErr  error
	gotName string
	decrypt bool
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if in.Name != nil {
		f.gotName = *in.Name
	}
	if in.WithDecryption != nil {
		f.decrypt = *in.WithDecryption
	}
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func withValue(v string) *fakeAPI {
	return &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr(v)}}}
}

func TestGetParameterDecrypts(t *testing.T) {
	api := withValue("sk-live")
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), " /studyhub/openai ")
	require.NoError(t, err)
	require.Equal(t, "sk-live", v)
	require.Equal(t, "/studyhub/openai", api.gotName)
	require.True(t, api.decrypt)
}

func TestGetParameterErrors(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	client, err := New(&fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")

	client, err = New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")

	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")

	_, err = (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestFetchAPIKey(t *testing.T) {
	ctx := context.Background()

	client, _ := New(withValue(" sk-bare \n"))
	key, err := FetchAPIKey(ctx, client, "p")
	require.NoError(t, err)
	require.Equal(t, "sk-bare", key)

	client, _ = New(withValue(`{"token":"sk-json"}`))
	key, err = FetchAPIKey(ctx, client, "p")
	require.NoError(t, err)
	require.Equal(t, "sk-json", key)

	client, _ = New(withValue(`{"token":""}`))
	_, err = FetchAPIKey(ctx, client, "p")
	require.ErrorContains(t, err, "empty key")

	client, _ = New(withValue(`{not json`))
	_, err = FetchAPIKey(ctx, client, "p")
	require.Error(t, err)
}
