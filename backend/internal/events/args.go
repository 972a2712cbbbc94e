package events

import (
	"context"
	"fmt"
	"reflect"
)

type sourceKey struct{}

// WithSource attaches a request scoped dependency provider to ctx.
func WithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, src)
}

func SourceFromContext(ctx context.Context) Source {
	if ctx == nil {
		return nil
	}
	src, _ := ctx.Value(sourceKey{}).(Source)
	return src
}

var argsType = reflect.TypeOf(Args(nil))

// buildArgs resolves the call arguments for a handler method. Without
// declared dependencies the method may take nothing or the whole Args bag.
// Unresolved dependencies are passed as zero values.
func buildArgs(t reflect.Type, deps []string, args Args, src Source) ([]reflect.Value, error) {
	if t.IsVariadic() {
		return nil, fmt.Errorf("variadic handlers are not supported")
	}

	if len(deps) == 0 {
		switch {
		case t.NumIn() == 0:
			return nil, nil
		case t.NumIn() == 1 && argsType.AssignableTo(t.In(0)):
			return []reflect.Value{reflect.ValueOf(args)}, nil
		default:
			return nil, fmt.Errorf("handler without dependencies must take no arguments or Args")
		}
	}

	if t.NumIn() != len(deps) {
		return nil, fmt.Errorf("handler takes %d arguments, %d dependencies declared", t.NumIn(), len(deps))
	}

	in := make([]reflect.Value, len(deps))
	for i, dep := range deps {
		v, ok := args[dep]
		if !ok && src != nil {
			v, _ = src.ProvideDependency(dep)
		}

		pt := t.In(i)
		if v == nil {
			in[i] = reflect.Zero(pt)
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(pt) {
			return nil, fmt.Errorf("dependency %q is %s, handler wants %s", dep, rv.Type(), pt)
		}
		in[i] = rv
	}
	return in, nil
}
