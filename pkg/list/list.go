package list

// List is a doubly linked list of values of type T.
type List[T any] struct {
	head *Link[T]
	tail *Link[T]
	size int
}

// Create a new list.
func NewList[T any]() *List[T] {
	return &List[T]{}
}

// Get a pointer to the head of the list.
func (list *List[T]) PeekHead() *Link[T] {
	return list.head
}

// Get a pointer to the tail of the list.
func (list *List[T]) PeekTail() *Link[T] {
	return list.tail
}

// Len returns the number of links in the list.
func (list *List[T]) Len() int {
	return list.size
}

// Add an element to the start of the list. Returns the added link.
func (list *List[T]) PushHead(value T) *Link[T] {
	newlink := &Link[T]{list: list, next: list.head, value: value}
	if list.head != nil {
		list.head.prev = newlink
	}
	list.head = newlink
	if list.tail == nil {
		list.tail = newlink
	}
	list.size++
	return newlink
}

// Add an element to the end of the list. Returns the added link.
func (list *List[T]) PushTail(value T) *Link[T] {
	newlink := &Link[T]{list: list, prev: list.tail, value: value}
	if list.tail != nil {
		list.tail.next = newlink
	}
	list.tail = newlink
	if list.head == nil {
		list.head = newlink
	}
	list.size++
	return newlink
}

// PopHead removes the head link and returns its value.
// ok is false if the list is empty.
func (list *List[T]) PopHead() (value T, ok bool) {
	link := list.head
	if link == nil {
		return value, false
	}
	link.PopSelf()
	return link.value, true
}

// Find an element in a list given a boolean function, f, that evaluates to true on the desired element.
func (list *List[T]) Find(f func(*Link[T]) bool) *Link[T] {
	for curr := list.head; curr != nil; curr = curr.next {
		if f(curr) {
			return curr
		}
	}
	return nil
}

// Apply a function to every element in the list.
// The function may pop the link it is given.
func (list *List[T]) Map(f func(*Link[T])) {
	curr := list.head
	for curr != nil {
		next := curr.next
		f(curr)
		curr = next
	}
}

// Link is an element of a List.
type Link[T any] struct {
	list  *List[T]
	prev  *Link[T]
	next  *Link[T]
	value T
}

// Get the list that this link is a part of.
func (link *Link[T]) GetList() *List[T] {
	return link.list
}

// Get the link's value.
func (link *Link[T]) GetValue() T {
	return link.value
}

// Set the link's value.
func (link *Link[T]) SetValue(value T) {
	link.value = value
}

// Get the link's prev.
func (link *Link[T]) GetPrev() *Link[T] {
	return link.prev
}

// Get the link's next.
func (link *Link[T]) GetNext() *Link[T] {
	return link.next
}

// Remove the link that calls PopSelf() from its list.
// Popping a detached link is a no-op.
func (link *Link[T]) PopSelf() {
	l := link.list
	if l == nil {
		return
	}
	if link.prev != nil {
		link.prev.next = link.next
	} else {
		l.head = link.next
	}
	if link.next != nil {
		link.next.prev = link.prev
	} else {
		l.tail = link.prev
	}
	link.list = nil
	link.prev = nil
	link.next = nil
	l.size--
}
