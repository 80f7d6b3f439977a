package event

import "testing"

func TestFeedSubscribeEmitDispose(t *testing.T) {
	var f Feed[string]
	var got []string

	stopA := f.Subscribe(func(s string) { got = append(got, "a:"+s) })
	stopB := f.Subscribe(func(s string) { got = append(got, "b:"+s) })

	f.Emit("1")
	stopA()
	stopA()
	f.Emit("2")
	stopB()
	f.Emit("3")

	want := []string{"a:1", "b:1", "b:2"}
	if len(got) != len(want) {
		t.Fatalf("got %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v; want %v", got, want)
		}
	}
	if f.Len() != 0 {
		t.Fatalf("Len() = %d; want 0", f.Len())
	}
}

func TestDisposersRunInReverseOnce(t *testing.T) {
	var d Disposers
	var order []int
	d.Add(func() { order = append(order, 1) })
	d.Add(nil)
	d.Add(func() { order = append(order, 2) })

	d.Dispose()
	d.Dispose()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("order = %v; want [2 1]", order)
	}
}
