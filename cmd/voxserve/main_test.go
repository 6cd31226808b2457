package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fmueller/voxserve/internal/cli"
	"github.com/fmueller/voxserve/internal/transcription"
	"github.com/stretchr/testify/require"
)

func TestShouldPrintUsageHint(t *testing.T) {
	t.Parallel()

	require.True(t, shouldPrintUsageHint(errors.New("unknown command \"bad\" for \"voxserve\"")))
	require.True(t, shouldPrintUsageHint(errors.New("unknown flag: --oops")))
	require.True(t, shouldPrintUsageHint(errors.New("accepts 1 arg(s), received 0")))
	require.False(t, shouldPrintUsageHint(errors.New("File format not supported")))
	require.False(t, shouldPrintUsageHint(errors.New("load configuration: ENGINE must be \"cli\" or \"openai\"")))
	require.False(t, shouldPrintUsageHint(nil))
}

func TestHelpHintTarget(t *testing.T) {
	t.Parallel()

	root := cli.NewRootCmd()
	require.Equal(t, "voxserve", helpHintTarget(root, []string{"--badflag"}))
	require.Equal(t, "voxserve", helpHintTarget(root, []string{"badcmd"}))
	require.Equal(t, "voxserve transcribe", helpHintTarget(root, []string{"transcribe"}))
	require.Equal(t, "voxserve serve", helpHintTarget(root, []string{"serve", "--addr"}))
	require.Equal(t, "voxserve", helpHintTarget(nil, nil))
}

func TestReportExitCodes(t *testing.T) {
	t.Parallel()

	root := cli.NewRootCmd()
	var out bytes.Buffer

	require.Zero(t, report(&out, root, nil, nil))
	require.Empty(t, out.String())

	require.Equal(t, exitUsage, report(&out, root, []string{"transcribe"}, errors.New("accepts 1 arg(s), received 0")))
	require.Contains(t, out.String(), "Run 'voxserve transcribe --help' for usage.")

	out.Reset()
	pipelineErr := &transcription.Error{
		Kind:    transcription.KindFormat,
		Code:    transcription.CodeUnsupportedFormat,
		Message: "File format not supported",
		Err:     errors.New("ffmpeg: /tmp/uploads/abc.ogg: Invalid data"),
	}
	require.Equal(t, exitFailure, report(&out, root, nil, pipelineErr))
	require.Equal(t, "File format not supported (unsupported_format)\n", out.String())
	require.NotContains(t, out.String(), "/tmp/uploads")
}
