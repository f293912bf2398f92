// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	t.Setenv("FINAGENT_TEST_SECRET", "from-env")
	r := NewResolver(StaticStore{"finagent/openai#api_key": "from-vault"})
	ctx := context.Background()

	got, err := r.Resolve(ctx, "plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", got)

	got, err = r.Resolve(ctx, "env:FINAGENT_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = r.Resolve(ctx, "vault:finagent/openai#api_key")
	require.NoError(t, err)
	assert.Equal(t, "from-vault", got)

	_, err = r.Resolve(ctx, "env:FINAGENT_TEST_SECRET_MISSING")
	assert.Error(t, err)
}

func TestResolver_VaultNotConfigured(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.Resolve(context.Background(), "vault:any")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vault is configured")
}

func TestPickField(t *testing.T) {
	data := map[string]interface{}{"api_key": "k1", "value": "v"}

	got, err := pickField(data, "api_key", "p")
	require.NoError(t, err)
	assert.Equal(t, "k1", got)

	got, err = pickField(data, "", "p")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	_, err = pickField(data, "missing", "p")
	assert.Error(t, err)
}

func TestIsReference(t *testing.T) {
	assert.True(t, IsReference("vault:x"))
	assert.True(t, IsReference("env:X"))
	assert.False(t, IsReference("sk-123"))
}
