package hub

import (
	"fmt"
	"net"
	"os"

	qrcode "github.com/skip2/go-qrcode"
)

// PrintInfo writes the hub's SSE URL, a terminal QR code for it, and any
// additional LAN addresses to stderr.
func PrintInfo(sseURL string) {
	fmt.Fprintf(os.Stderr, "knowd hub: %s\n", sseURL)

	qr, err := qrcode.New(sseURL, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(os.Stderr, "QR code generation failed: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "\nScan to connect:\n%s\n", qr.ToSmallString(false))

	if ips := localIPs(); len(ips) > 0 {
		fmt.Fprintf(os.Stderr, "  also reachable on:")
		for _, ip := range ips {
			fmt.Fprintf(os.Stderr, " %s", ip)
		}
		fmt.Fprintf(os.Stderr, "\n")
	}
}

// localIPs returns the host's non-loopback IPv4 addresses.
func localIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			ips = append(ips, ip4.String())
		}
	}
	return ips
}
