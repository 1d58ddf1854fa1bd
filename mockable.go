// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import "time"

var timeSleep = time.Sleep
