package config

import (
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"
)

type hookedConfig struct {
	Rate resource.Quantity
	Root Path
}

func TestCustomHooks(t *testing.T) {
	v := viper.New()
	v.Set("rate", "10Mi")
	v.Set("root", "~/data")

	var config hookedConfig
	require.NoError(t, v.Unmarshal(&config, CustomHooks...))

	home, err := homedir.Dir()
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024), config.Rate.Value())
	assert.Equal(t, Path(home+"/data"), config.Root)
}

type validatedConfig struct {
	Name  string `validate:"required"`
	Count int    `validate:"gte=1"`
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		config  validatedConfig
		wantErr bool
	}{
		"valid":         {config: validatedConfig{Name: "a", Count: 1}},
		"missing name":  {config: validatedConfig{Count: 1}, wantErr: true},
		"count too low": {config: validatedConfig{Name: "a"}, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Validate(tc.config)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
