package agent

import (
	"net"
	"os"
)

const unknown = "unknown"

// SystemInfo identifies the host a recording was made on.
type SystemInfo struct {
	Host string
	IP   string
	MAC  string
	OS   string
}

func CollectSystemInfo() SystemInfo {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = unknown
	}
	return SystemInfo{
		Host: host,
		IP:   localIP(),
		MAC:  macAddress(),
		OS:   osDescriptor(),
	}
}

// localIP reports the source address the host would use for outbound
// traffic. Dialing UDP sends no packets.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return unknown
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return unknown
}

func macAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return unknown
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		return ifc.HardwareAddr.String()
	}
	return unknown
}
