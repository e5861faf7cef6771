// Package discovery advertises and finds capture listeners over mDNS.
//
// A running msrcap server can announce itself as a "_msrcap._tcp" service so
// the machine running the game client can locate it without knowing the
// capture host's address. The TXT record carries "msrcap=1" plus the version,
// admission ceiling and log file name.
//
// # Advertising
//
//	adv, err := discovery.Advertise(discovery.Announcement{
//	    Port:           3074,
//	    Version:        version.Version,
//	    MaxConnections: 10,
//	})
//	if err != nil {
//	    return err
//	}
//	defer adv.Shutdown()
//
// # Finding listeners
//
//	listeners, err := discovery.NewScanner().Scan(ctx)
//	for _, l := range listeners {
//	    fmt.Println(l.Address())
//	}
//
// Entries without the msrcap marker are ignored, so other services that
// happen to share the type are never reported.
package discovery
