package analysis

import (
	"fmt"
	"os"
	"strconv"
)

// modeEnvironment builds the environment for a spawned extractor. Native
// thread counts are always capped; Safe mode additionally disables the
// crash-prone subsystems.
func modeEnvironment(mode Mode, threadCap int) []string {
	if threadCap < 1 {
		threadCap = 1
	}
	n := strconv.Itoa(threadCap)

	env := append(os.Environ(),
		fmt.Sprintf("OMP_NUM_THREADS=%s", n),
		fmt.Sprintf("OPENBLAS_NUM_THREADS=%s", n),
		fmt.Sprintf("MKL_NUM_THREADS=%s", n),
		fmt.Sprintf("TF_NUM_INTRAOP_THREADS=%s", n),
		fmt.Sprintf("TF_NUM_INTEROP_THREADS=%s", n),
		"TF_CPP_MIN_LOG_LEVEL=3",
	)

	if mode == ModeSafe {
		env = append(env,
			"EXTRACTOR_DISABLE_DSP=1",
			"EXTRACTOR_DISABLE_ML=1",
			"EXTRACTOR_DISABLE_FINGERPRINT=1",
		)
	}

	return env
}
