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

package ksyscall

import (
	"github.com/sirupsen/logrus"

	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/sched"
)

// registerKernel wires the kernel_* syscalls of §6: runtime log-level
// control and the panic path a caller uses to report a fatal invariant
// violation it detected in its own ring-2/3 code.
func (t *Table) registerKernel() {
	t.register("kernel_set_log_mode", ktypes.Ring2, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		level, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, kstatus.New(kstatus.InvalidArgument, "unknown log level %q", level)
		}
		logrus.SetLevel(lvl)
		return nil, nil
	})

	t.register("kernel_panic", ktypes.Ring2, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		reason, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		t.sched.Panic(reason)
		return nil, nil
	})
}
