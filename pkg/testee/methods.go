package testee

import (
	"context"
	"strconv"

	"github.com/devicelab-dev/web-testee/pkg/action"
	"github.com/devicelab-dev/web-testee/pkg/artifacts"
	"github.com/devicelab-dev/web-testee/pkg/assertion"
	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/device"
	"github.com/devicelab-dev/web-testee/pkg/invoke"
	"github.com/devicelab-dev/web-testee/pkg/matcher"
	"github.com/devicelab-dev/web-testee/pkg/resolver"
)

// Driver-object methods.
const (
	MethodSelectElement = "selectElementWithMatcher"
	MethodPerformAction = "performAction"
	MethodAssert        = "assertWithMatcher"

	MethodLaunchApp              = "launchApp"
	MethodTerminateApp           = "terminateApp"
	MethodReloadApp              = "reloadReactNative"
	MethodSendToHome             = "sendToHome"
	MethodSetOrientation         = "setOrientation"
	MethodSetLocation            = "setLocation"
	MethodSetPermissions         = "setPermissions"
	MethodSetURLBlacklist        = "setURLBlacklist"
	MethodEnableSynchronization  = "enableSynchronization"
	MethodDisableSynchronization = "disableSynchronization"

	MethodRecordVideo    = "recordVideo"
	MethodStopVideo      = "stopVideo"
	MethodTakeScreenshot = "takeScreenshot"
)

func (t *Testee) registerMethods(plugin artifacts.Plugin) {
	in := t.interp
	in.Register(MethodSelectElement, t.selectElement)
	in.Register(MethodPerformAction, t.performAction)
	in.Register(MethodAssert, t.assertWithMatcher)

	in.Register(MethodLaunchApp, func(ctx context.Context, args []invoke.Value) (invoke.Value, error) {
		var la device.LaunchArgs
		if len(args) > 0 {
			if err := invoke.Decode(args[0], &la); err != nil {
				return nil, err
			}
		}
		return true, t.dev.LaunchApp(ctx, la)
	})
	in.Register(MethodTerminateApp, noArgs(t.dev.Terminate))
	in.Register(MethodReloadApp, noArgs(t.dev.ReloadApp))
	in.Register(MethodSendToHome, noArgs(t.dev.SendToHome))
	in.Register(MethodSetOrientation, func(ctx context.Context, args []invoke.Value) (invoke.Value, error) {
		var o string
		if err := decodeArg(args, 0, &o); err != nil {
			return nil, err
		}
		return true, t.dev.SetOrientation(ctx, o)
	})
	in.Register(MethodSetLocation, func(ctx context.Context, args []invoke.Value) (invoke.Value, error) {
		lat, err := number(args, 0)
		if err != nil {
			return nil, err
		}
		lon, err := number(args, 1)
		if err != nil {
			return nil, err
		}
		return true, t.dev.SetLocation(ctx, lat, lon)
	})
	in.Register(MethodSetPermissions, func(ctx context.Context, args []invoke.Value) (invoke.Value, error) {
		var perms map[string]string
		if err := decodeArg(args, 0, &perms); err != nil {
			return nil, err
		}
		return true, t.dev.SetPermissions(ctx, perms)
	})
	in.Register(MethodSetURLBlacklist, func(_ context.Context, args []invoke.Value) (invoke.Value, error) {
		var patterns []string
		if err := decodeArg(args, 0, &patterns); err != nil {
			return nil, err
		}
		return true, t.dev.SetURLBlacklist(patterns)
	})
	in.Register(MethodEnableSynchronization, func(context.Context, []invoke.Value) (invoke.Value, error) {
		t.dev.EnableSynchronization()
		return true, nil
	})
	in.Register(MethodDisableSynchronization, func(context.Context, []invoke.Value) (invoke.Value, error) {
		t.dev.DisableSynchronization()
		return true, nil
	})

	if plugin == nil {
		return
	}
	id := t.sess.ID()
	in.Register(MethodRecordVideo, func(ctx context.Context, _ []invoke.Value) (invoke.Value, error) {
		return true, plugin.RecordVideo(ctx, id)
	})
	in.Register(MethodStopVideo, func(ctx context.Context, _ []invoke.Value) (invoke.Value, error) {
		path, err := plugin.StopVideo(ctx, id)
		if err != nil {
			return nil, err
		}
		return path, nil
	})
	in.Register(MethodTakeScreenshot, func(ctx context.Context, _ []invoke.Value) (invoke.Value, error) {
		path, err := plugin.TakeScreenshot(ctx, id)
		if err != nil {
			return nil, err
		}
		return path, nil
	})
}

// selectElement resolves matcher refinements to a *resolver.Result.
func (t *Testee) selectElement(ctx context.Context, args []invoke.Value) (invoke.Value, error) {
	descs := make([]matcher.Descriptor, len(args))
	for i, a := range args {
		if err := invoke.Decode(a, &descs[i]); err != nil {
			return nil, err
		}
	}
	req, err := resolver.NewRequest(descs...)
	if err != nil {
		return nil, err
	}
	page, err := t.sess.Page()
	if err != nil {
		return nil, err
	}
	return t.resolver.Resolve(ctx, page, req)
}

func (t *Testee) performAction(ctx context.Context, args []invoke.Value) (invoke.Value, error) {
	res, err := element(args)
	if err != nil {
		return nil, err
	}
	var d action.Descriptor
	if err := decodeArg(args, 1, &d); err != nil {
		return nil, err
	}
	page, err := t.sess.Page()
	if err != nil {
		return nil, err
	}
	result := t.executor.Execute(ctx, page, res.Element, d)
	if !result.Success {
		return nil, result.Error
	}
	return true, nil
}

func (t *Testee) assertWithMatcher(ctx context.Context, args []invoke.Value) (invoke.Value, error) {
	res, err := element(args)
	if err != nil {
		return nil, err
	}
	var d matcher.Descriptor
	if err := decodeArg(args, 1, &d); err != nil {
		return nil, err
	}
	if err := assertion.Evaluate(ctx, res.Element, d); err != nil {
		return nil, err
	}
	return true, nil
}

// element returns the lookup result passed as the first argument.
func element(args []invoke.Value) (*resolver.Result, error) {
	if len(args) == 0 {
		return nil, core.ErrMalformedCall.WithMessage("missing element argument")
	}
	res, ok := args[0].(*resolver.Result)
	if !ok {
		return nil, core.ErrMalformedCall.WithMessagef("element argument is %T, want a selectElementWithMatcher result", args[0])
	}
	return res, nil
}

func decodeArg(args []invoke.Value, i int, out interface{}) error {
	if i >= len(args) {
		return core.ErrMalformedCall.WithMessagef("missing argument %d", i)
	}
	return invoke.Decode(args[i], out)
}

// number accepts a JSON number or a numeric string.
func number(args []invoke.Value, i int) (float64, error) {
	var v interface{}
	if err := decodeArg(args, i, &v); err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, core.ErrMalformedCall.WithMessagef("argument %d: %q is not a number", i, x)
		}
		return f, nil
	}
	return 0, core.ErrMalformedCall.WithMessagef("argument %d: want a number, got %T", i, v)
}

func noArgs(fn func(context.Context) error) invoke.Method {
	return func(ctx context.Context, _ []invoke.Value) (invoke.Value, error) {
		return true, fn(ctx)
	}
}
