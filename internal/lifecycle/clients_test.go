package lifecycle

import "testing"

func TestClientsFocusAndOpen(t *testing.T) {
	clients := NewClients()
	home := clients.Attach("https://brightway.local/", "v1")
	services := clients.Attach("https://brightway.local/#services", "v1")

	if found, ok := clients.FindByURL("https://brightway.local/#services"); !ok || found.ID != services.ID {
		t.Fatalf("FindByURL should locate the services page")
	}
	focused, ok := clients.Focus(home.ID)
	if !ok || !focused.Focused {
		t.Fatalf("focus failed")
	}

	opened := clients.Open("https://brightway.local/#contact", "v1")
	if !opened.Focused {
		t.Fatalf("opened client should be focused")
	}
	if c, _ := clients.Get(home.ID); c.Focused {
		t.Fatalf("previous client should lose focus")
	}
	if len(clients.List()) != 3 {
		t.Fatalf("expected three clients")
	}

	if !clients.Detach(services.ID) || clients.Detach(services.ID) {
		t.Fatalf("detach should succeed once")
	}
	if _, ok := clients.Focus(services.ID); ok {
		t.Fatalf("detached client cannot be focused")
	}
}

func TestClientsClaim(t *testing.T) {
	clients := NewClients()
	clients.Attach("https://brightway.local/", "")
	clients.Attach("https://brightway.local/about", "v1")
	if changed := clients.Claim("v1"); changed != 1 {
		t.Fatalf("only the uncontrolled client should change, got %d", changed)
	}
	for _, c := range clients.List() {
		if c.Controller != "v1" {
			t.Fatalf("client %s not claimed", c.ID)
		}
	}
}
