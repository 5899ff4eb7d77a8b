package registry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/provider/echo"
	"github.com/davidbz/conductor/internal/provider/registry"
)

type namedClient struct {
	domain.ProviderClient
	name string
}

func (c namedClient) Name() string { return c.name }

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		clients []domain.ProviderClient
		wantErr string
	}{
		{name: "echo client", clients: []domain.ProviderClient{echo.NewProvider()}},
		{name: "nil client", clients: []domain.ProviderClient{nil}, wantErr: "provider cannot be nil"},
		{name: "empty name", clients: []domain.ProviderClient{namedClient{}}, wantErr: "provider name cannot be empty"},
		{
			name:    "duplicate name",
			clients: []domain.ProviderClient{echo.NewProvider(), namedClient{name: "echo"}},
			wantErr: "provider echo already registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.NewRegistry()

			var err error
			for _, client := range tt.clients {
				if err = reg.Register(ctx, client); err != nil {
					break
				}
			}

			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRegistry_Get(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(ctx, echo.NewProvider()))

	client, err := reg.Get(ctx, "echo")
	require.NoError(t, err)
	require.Equal(t, "echo", client.Name())

	_, err = reg.Get(ctx, "")
	require.EqualError(t, err, "provider name cannot be empty")

	_, err = reg.Get(ctx, "openai")
	require.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestRegistry_List(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()

	names, err := reg.List(ctx)
	require.NoError(t, err)
	require.Empty(t, names)

	for _, name := range []string{"openai", "echo", "anthropic"} {
		require.NoError(t, reg.Register(ctx, namedClient{name: name}))
	}

	names, err = reg.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"anthropic", "echo", "openai"}, names)
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Register(ctx, namedClient{name: string(rune('a' + i))})
		}()
	}
	wg.Wait()

	names, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, names, 10)
}

func TestRegistry_Unresolved(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(ctx, echo.NewProvider()))

	missing := reg.Unresolved(ctx, append(echo.Models(),
		domain.ModelConfig{ID: "gpt-4o", Provider: "openai", Enabled: true},
		domain.ModelConfig{ID: "gpt-3.5-turbo", Provider: "openai", Enabled: false},
	))
	require.Equal(t, []string{"gpt-4o"}, missing)
}
