//
// Copyright 2024 The Kernel Core Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package bootctx reads the boot handoff contract published by the EEPROM
// bootloader (out of scope for this repository) and the persisted
// configuration tables the kernel consults but does not own. Everything
// here is read defensively: a missing table, an absent boot-security
// block, or an empty boot-args map must never prevent the kernel from
// coming up.
package bootctx

import "github.com/sirupsen/logrus"

// BootArgs is the parsed boot-arguments map handed off by the bootloader.
type BootArgs struct {
	LogLevel  string
	SafeMode  bool
	InitPath  string
	QuickBoot bool
}

// BootSecurity is the optional secure-boot measurement block. Its presence
// is checked by the IRP Fabric when validating driver signatures; its
// absence simply means secure boot is not active.
type BootSecurity struct {
	Active       bool
	SignerPubKey []byte
}

// Context is everything the kernel receives from the bootloader.
type Context struct {
	PrimaryFSAddress string
	Args             BootArgs
	Security         *BootSecurity
}

// Load builds a Context from a raw handoff dictionary, defensively: any
// field that is absent or of the wrong type is defaulted rather than
// treated as an error.
func Load(handoff map[string]interface{}) Context {
	ctx := Context{
		Args: BootArgs{
			LogLevel: "info",
		},
	}

	if v, ok := handoff["fs_address"].(string); ok {
		ctx.PrimaryFSAddress = v
	} else {
		logrus.Debug("bootctx: no primary filesystem address in boot handoff")
	}

	if raw, ok := handoff["boot_args"].(map[string]interface{}); ok {
		if v, ok := raw["log_level"].(string); ok && v != "" {
			ctx.Args.LogLevel = v
		}
		if v, ok := raw["safe_mode"].(bool); ok {
			ctx.Args.SafeMode = v
		}
		if v, ok := raw["init_path"].(string); ok {
			ctx.Args.InitPath = v
		}
		if v, ok := raw["quick_boot"].(bool); ok {
			ctx.Args.QuickBoot = v
		}
	} else {
		logrus.Debug("bootctx: no boot-arguments map in boot handoff")
	}

	if raw, ok := handoff["boot_security"].(map[string]interface{}); ok {
		sec := &BootSecurity{}
		if v, ok := raw["active"].(bool); ok {
			sec.Active = v
		}
		if v, ok := raw["signer_pubkey"].([]byte); ok {
			sec.SignerPubKey = v
		}
		ctx.Security = sec
	}

	return ctx
}

// SecureBootActive reports whether the kernel should validate driver
// signatures before spawning driver processes (§4.5).
func (c Context) SecureBootActive() bool {
	return c.Security != nil && c.Security.Active
}
