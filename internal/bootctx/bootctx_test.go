package bootctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefensiveDefaults(t *testing.T) {
	ctx := Load(nil)
	assert.Equal(t, "info", ctx.Args.LogLevel)
	assert.False(t, ctx.Args.SafeMode)
	assert.Nil(t, ctx.Security)
	assert.False(t, ctx.SecureBootActive())
}

func TestLoadPopulatedHandoff(t *testing.T) {
	handoff := map[string]interface{}{
		"fs_address": "/dev/sda1",
		"boot_args": map[string]interface{}{
			"log_level":  "debug",
			"safe_mode":  true,
			"init_path":  "/sbin/init",
			"quick_boot": true,
		},
		"boot_security": map[string]interface{}{
			"active": true,
		},
	}

	ctx := Load(handoff)
	assert.Equal(t, "/dev/sda1", ctx.PrimaryFSAddress)
	assert.Equal(t, "debug", ctx.Args.LogLevel)
	assert.True(t, ctx.Args.SafeMode)
	assert.Equal(t, "/sbin/init", ctx.Args.InitPath)
	assert.True(t, ctx.Args.QuickBoot)
	assert.True(t, ctx.SecureBootActive())
}

func TestLoadPermsAndAutoload(t *testing.T) {
	mem := NewMemKVLoader()
	mem.Tables["perms"] = [][]string{
		{"/dev/tty", "0666"},
		{"/dev/kmem", "0600", "0"},
	}
	mem.Tables["autoload"] = [][]string{
		{"/drivers/tty.drv"},
		{"/drivers/net.drv"},
	}

	perms, err := LoadPerms(mem)
	assert.NoError(t, err)
	assert.Len(t, perms, 2)
	assert.Equal(t, uint32(0666), perms[0].Mode)
	assert.Equal(t, "0", perms[1].RequiredRing)

	autoload, err := LoadAutoload(mem)
	assert.NoError(t, err)
	assert.Len(t, autoload, 2)
	assert.Equal(t, "/drivers/tty.drv", autoload[0].ImagePath)
}
