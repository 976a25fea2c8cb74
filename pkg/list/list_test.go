package list_test

import (
	"testing"

	"framehash/pkg/list"
)

func verifyList(t *testing.T, l *list.List[int], data []int) {
	listdata := make([]int, 0)
	for curr := l.PeekHead(); curr != nil; curr = curr.GetNext() {
		listdata = append(listdata, curr.GetValue())
	}
	if len(listdata) != len(data) {
		t.Fatalf("lists of unequal size; got %d, expected %d", len(listdata), len(data))
	}
	if l.Len() != len(data) {
		t.Fatalf("bad length; got %d, expected %d", l.Len(), len(data))
	}
	for i := 0; i < len(data); i++ {
		if listdata[i] != data[i] {
			t.Fatalf("lists not equal; got %v, expected %v.", listdata[i], data[i])
		}
	}
}

func fiveList(pushHead bool) *list.List[int] {
	l := list.NewList[int]()
	for i := 1; i <= 5; i++ {
		if pushHead {
			l.PushHead(i)
		} else {
			l.PushTail(i)
		}
	}
	return l
}

func TestList(t *testing.T) {
	t.Run("EmptyList", testEmptyList)
	t.Run("SingletonList", testSingletonList)
	t.Run("PushHeadIntList", testPushHeadIntList)
	t.Run("PushTailIntList", testPushTailIntList)
	t.Run("FindExists", testFindExists)
	t.Run("FindNotExists", testFindNotExists)
	t.Run("Map", testMap)
	t.Run("MapPop", testMapPop)
	t.Run("GetList", testGetList)
	t.Run("PopSelf", testPopSelf)
	t.Run("PopNewHead", testPopNewHead)
	t.Run("PopHead", testPopHead)
	t.Run("PopDetached", testPopDetached)
}

func testEmptyList(t *testing.T) {
	l := list.NewList[int]()
	if l.PeekHead() != nil || l.PeekTail() != nil || l.Len() != 0 {
		t.Fatal("bad list initialization")
	}
}

func testSingletonList(t *testing.T) {
	l := list.NewList[int]()
	l.PushHead(5)
	if l.PeekHead() != l.PeekTail() {
		t.Fatal("head not equal to tail in singleton list")
	}
}

func testPushHeadIntList(t *testing.T) {
	l := fiveList(true)
	if l.PeekHead().GetValue() != 5 || l.PeekTail().GetValue() != 1 {
		t.Fatal("bad head or tail")
	}
	verifyList(t, l, []int{5, 4, 3, 2, 1})
}

func testPushTailIntList(t *testing.T) {
	l := fiveList(false)
	if l.PeekHead().GetValue() != 1 || l.PeekTail().GetValue() != 5 {
		t.Fatal("bad head or tail")
	}
	verifyList(t, l, []int{1, 2, 3, 4, 5})
}

func testFindExists(t *testing.T) {
	for i := 1; i <= 5; i++ {
		l := fiveList(true)
		val := l.Find(func(x *list.Link[int]) bool { return x.GetValue() == i })
		if val == nil || val.GetValue() != i {
			t.Fatal("found incorrect value")
		}
	}
}

func testFindNotExists(t *testing.T) {
	l := fiveList(true)
	if l.Find(func(x *list.Link[int]) bool { return x.GetValue() == 6 }) != nil {
		t.Fatal("found non-existent value")
	}
	if list.NewList[int]().Find(func(*list.Link[int]) bool { return true }) != nil {
		t.Fatal("found a value in an empty list")
	}
}

func testMap(t *testing.T) {
	l := fiveList(true)
	l.Map(func(x *list.Link[int]) { x.SetValue(x.GetValue() + 10) })
	verifyList(t, l, []int{15, 14, 13, 12, 11})
}

func testMapPop(t *testing.T) {
	l := fiveList(false)
	l.Map(func(x *list.Link[int]) {
		if x.GetValue()%2 == 0 {
			x.PopSelf()
		}
	})
	verifyList(t, l, []int{1, 3, 5})
}

func testGetList(t *testing.T) {
	l := list.NewList[int]()
	l.PushHead(1)
	if l.PeekHead().GetList() != l {
		t.Fatal("bad getlist")
	}
}

func testPopSelf(t *testing.T) {
	l := fiveList(true)
	l.Find(func(x *list.Link[int]) bool { return x.GetValue() == 4 }).PopSelf()
	verifyList(t, l, []int{5, 3, 2, 1})
}

func testPopNewHead(t *testing.T) {
	l := list.NewList[int]()
	l.PushHead(1)
	l.PushHead(2)
	elt1 := l.Find(func(x *list.Link[int]) bool { return x.GetValue() == 1 })
	elt2 := l.Find(func(x *list.Link[int]) bool { return x.GetValue() == 2 })
	elt2.PopSelf()
	if l.PeekHead() != elt1 || l.PeekTail() != elt1 {
		t.Fatal("bad pop, head or tail not updated")
	}
}

func testPopHead(t *testing.T) {
	l := fiveList(false)
	v, ok := l.PopHead()
	if !ok || v != 1 {
		t.Fatalf("bad pophead; got %v %v", v, ok)
	}
	verifyList(t, l, []int{2, 3, 4, 5})
	empty := list.NewList[int]()
	if _, ok := empty.PopHead(); ok {
		t.Fatal("pophead on empty list succeeded")
	}
}

func testPopDetached(t *testing.T) {
	l := list.NewList[int]()
	link := l.PushTail(1)
	link.PopSelf()
	link.PopSelf()
	verifyList(t, l, []int{})
}
